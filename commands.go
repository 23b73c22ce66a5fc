package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/lithammer/dedent"
	"github.com/raine/rentals-client/internal/api"
	"github.com/raine/rentals-client/internal/grant"
	"github.com/raine/rentals-client/internal/session"
	"golang.org/x/sync/errgroup"
)

var usage = strings.TrimSpace(dedent.Dedent(`
	Usage: rentals <command> [flags]

	Commands:
	  login      sign in (-u email, -p password, -remember)
	  logout     sign out and forget stored tokens
	  status     show the session state
	  register   create an account
	  token      print a valid access token
	  get PATH   send an authenticated GET and print the body
	  properties list your properties
	  dashboard  show the landlord dashboard
	  watch      keep the session alive and report sign-in changes

	Configuration is read from config.yaml and config.env in the user config
	directory; RENTALS_* environment variables override both.
`))

var errUsage = errors.New("invalid usage")

type cli struct {
	app         *app
	out         io.Writer
	interactive bool
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintln(c.out, usage)
		return errUsage
	}

	commands := map[string]func(context.Context, []string) error{
		"login":      c.login,
		"logout":     c.logout,
		"status":     c.status,
		"register":   c.register,
		"token":      c.token,
		"get":        c.get,
		"properties": c.properties,
		"dashboard":  c.dashboard,
		"watch":      c.watch,
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintln(c.out, usage)
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
	return cmd(ctx, args[1:])
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (c *cli) login(ctx context.Context, args []string) error {
	var in loginInput
	fs := newFlagSet("login")
	fs.StringVar(&in.Username, "u", os.Getenv("RENTALS_USERNAME"), "email")
	fs.StringVar(&in.Password, "p", os.Getenv("RENTALS_PASSWORD"), "password")
	fs.BoolVar(&in.Remember, "remember", false, "keep the session after exit")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if (in.Username == "" || in.Password == "") && c.interactive {
		if err := promptLogin(&in); err != nil {
			return err
		}
	}
	if in.Username == "" || in.Password == "" {
		return fmt.Errorf("%w: email and password are required", errUsage)
	}

	if err := c.app.session.Login(ctx, in.Username, in.Password, in.Remember); err != nil {
		if grant.IsKind(err, grant.KindInvalidCredentials) {
			return errors.New("invalid email or password")
		}
		return err
	}
	fmt.Fprintln(c.out, successStyle.Render("✓ Logged in as "+in.Username))
	if !in.Remember {
		fmt.Fprintln(c.out, mutedStyle.Render("  tokens are kept for this process only"))
	}
	return nil
}

func (c *cli) logout(ctx context.Context, _ []string) error {
	if err := c.app.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "Logged out")
	return nil
}

func (c *cli) status(ctx context.Context, _ []string) error {
	info := c.app.session.Info(ctx)
	if info.State == session.Unauthenticated {
		fmt.Fprintln(c.out, warnStyle.Render("Not logged in"))
		return nil
	}

	fmt.Fprintln(c.out, successStyle.Render("Logged in"))
	remaining := time.Until(info.ExpiresAt).Round(time.Second)
	if remaining > 0 {
		fmt.Fprintf(c.out, "  access token expires in %s\n", remaining)
	} else {
		fmt.Fprintln(c.out, "  access token expired, it will be refreshed on the next request")
	}
	fmt.Fprintf(c.out, "  remembered: %t\n", info.Remember)
	return nil
}

func (c *cli) register(ctx context.Context, args []string) error {
	var req grant.RegisterRequest
	fs := newFlagSet("register")
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Password, "password", "", "password")
	fs.StringVar(&req.FirstName, "first", "", "first name")
	fs.StringVar(&req.LastName, "last", "", "last name")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if (req.Email == "" || req.Password == "") && c.interactive {
		if err := promptRegistration(&req); err != nil {
			return err
		}
	}
	if req.Email == "" || req.Password == "" {
		return fmt.Errorf("%w: email and password are required", errUsage)
	}

	user, err := c.app.session.Register(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, successStyle.Render("✓ Registered "+user.Email))
	fmt.Fprintln(c.out, mutedStyle.Render("  run `rentals login` to sign in"))
	return nil
}

func (c *cli) token(ctx context.Context, _ []string) error {
	token, err := c.app.session.AccessToken(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, token)
	return nil
}

func (c *cli) get(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: get takes exactly one path", errUsage)
	}
	path := args[0]
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	res, err := c.app.dispatcher.Call(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, res.Body, "", "  ") == nil {
		pretty.WriteByte('\n')
		c.out.Write(pretty.Bytes())
	} else {
		c.out.Write(res.Body)
	}
	return res.Err()
}

func (c *cli) properties(ctx context.Context, _ []string) error {
	props, err := c.app.rentals.ListProperties(ctx)
	if err != nil {
		return err
	}
	if len(props) == 0 {
		fmt.Fprintln(c.out, "No properties")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCITY\tRENT")
	for _, p := range props {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", p.ID, p.Name, p.City, p.MonthlyRent)
	}
	return w.Flush()
}

func (c *cli) dashboard(ctx context.Context, _ []string) error {
	d, err := c.app.rentals.Dashboard(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Properties:     %d\n", d.PropertyCount)
	fmt.Fprintf(c.out, "Active leases:  %d\n", d.ActiveLeases)
	fmt.Fprintf(c.out, "Open damages:   %d\n", d.OpenDamages)
	fmt.Fprintf(c.out, "Monthly income: %.2f\n", d.MonthlyIncome)
	return nil
}

// watch runs the keep-alive loop and prints every sign-in change until
// interrupted or signed out.
func (c *cli) watch(ctx context.Context, args []string) error {
	fs := newFlagSet("watch")
	interval := fs.Duration("interval", time.Minute, "keep-alive check interval")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", errUsage)
	}

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		return c.app.session.KeepAlive(ctx, *interval)
	})

	changes, stop := c.app.session.Watch(ctx)
	defer stop()
	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return nil
			case authenticated := <-changes:
				if !authenticated {
					fmt.Fprintln(c.out, warnStyle.Render("Signed out"))
					return nil
				}
				fmt.Fprintln(c.out, successStyle.Render("Signed in"))
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// exitCode maps command errors to process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	case api.IsSessionExpired(err) || grant.IsKind(err, grant.KindSessionExpired):
		return 3
	default:
		return 1
	}
}
