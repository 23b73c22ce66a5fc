package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/raine/rentals-client/config"
	"github.com/raine/rentals-client/internal/grant"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// requiredEnvVars must be known before any command can run.
var requiredEnvVars = []string{"RENTALS_API_URL", "RENTALS_TOKEN_KEY"}

func checkRequiredConfig() []string {
	var missing []string
	for _, v := range requiredEnvVars {
		if os.Getenv(v) == "" {
			missing = append(missing, v)
		}
	}
	return missing
}

// isInteractiveTerminal returns true if both stdin and stdout are TTYs.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			MarginBottom(1)
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// runSetupWizard asks for the backend URL and writes config.env with a
// freshly generated token encryption key. Returns false if the user aborted.
func runSetupWizard() bool {
	fmt.Println()
	fmt.Println(titleStyle.Render("Rentals client - first-time setup"))

	apiURL := os.Getenv("RENTALS_API_URL")
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend URL").
				Description("Base URL of the rentals API, e.g. https://api.example.com").
				Value(&apiURL).
				Validate(validateAPIURL),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := map[string]string{
		"RENTALS_API_URL":   apiURL,
		"RENTALS_TOKEN_KEY": os.Getenv("RENTALS_TOKEN_KEY"),
	}
	if values["RENTALS_TOKEN_KEY"] == "" {
		values["RENTALS_TOKEN_KEY"] = generateTokenKey()
	}

	configPath, err := writeEnvFile(values)
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		waitOnWindows()
		return false
	}
	for k, v := range values {
		os.Setenv(k, v)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(mutedStyle.Render("  " + configPath))
	fmt.Println()
	return true
}

func validateAPIURL(s string) error {
	if s == "" {
		return errors.New("URL is required")
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http:// or https:// URL")
	}
	return nil
}

type loginInput struct {
	Username string
	Password string
	Remember bool
}

// promptLogin fills in whatever the flags left empty.
func promptLogin(in *loginInput) error {
	var fields []huh.Field
	if in.Username == "" {
		fields = append(fields, huh.NewInput().
			Title("Email").
			Value(&in.Username).
			Validate(required("email")))
	}
	if in.Password == "" {
		fields = append(fields, huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&in.Password).
			Validate(required("password")))
	}
	fields = append(fields, huh.NewConfirm().
		Title("Keep me signed in on this device?").
		Value(&in.Remember))

	return huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeBase16()).Run()
}

func promptRegistration(req *grant.RegisterRequest) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Email").Value(&req.Email).Validate(required("email")),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&req.Password).Validate(required("password")),
			huh.NewInput().Title("First name").Value(&req.FirstName),
			huh.NewInput().Title("Last name").Value(&req.LastName),
		),
	).WithTheme(huh.ThemeBase16()).Run()
}

func required(name string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func generateTokenKey() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based if crypto/rand fails (unlikely)
		return fmt.Sprintf("rentals-%d", time.Now().UnixNano())
	}
	return base64.URLEncoding.EncodeToString(b)
}

// writeEnvFile writes the configuration with 0600 permissions since it
// contains the token key. Returns the path written.
func writeEnvFile(values map[string]string) (string, error) {
	dir := config.Dir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	configPath := filepath.Join(dir, config.EnvFileName)

	f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	for _, key := range requiredEnvVars {
		if val, ok := values[key]; ok {
			if _, err := fmt.Fprintf(f, "%s=%q\n", key, val); err != nil {
				return "", fmt.Errorf("failed to write %s: %w", key, err)
			}
		}
	}
	return configPath, nil
}

// waitOnWindows pauses execution on Windows so users can see error messages
// before the console window closes.
func waitOnWindows() {
	if runtime.GOOS == "windows" && isInteractiveTerminal() {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}

func fatalWithWait(format string, args ...any) {
	log.Error().Msgf(format, args...)
	waitOnWindows()
	os.Exit(1)
}
