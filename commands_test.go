package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raine/rentals-client/config"
	"github.com/raine/rentals-client/internal/mockapi"
	"github.com/raine/rentals-client/internal/rentals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCLI(t *testing.T, cfg *config.Config) (*cli, *bytes.Buffer, *mockapi.Server) {
	t.Helper()
	mock := mockapi.New(mockapi.Options{})
	require.NoError(t, mock.AddUser("owner@example.com", "hunter22", "Olga", "Owner"))
	ts := httptest.NewServer(mock)
	t.Cleanup(ts.Close)

	if cfg == nil {
		cfg = config.Default()
		cfg.Store = config.StoreMemory
	}
	cfg.APIURL = ts.URL
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	var out bytes.Buffer
	return &cli{app: a, out: &out}, &out, mock
}

func TestLoginAndListProperties(t *testing.T) {
	ctx := context.Background()
	c, out, _ := newTestCLI(t, nil)

	require.NoError(t, c.run(ctx, []string{"login", "-u", "owner@example.com", "-p", "hunter22"}))
	assert.Contains(t, out.String(), "Logged in as owner@example.com")

	_, err := c.app.rentals.CreateProperty(ctx, rentals.PropertyInput{Name: "Loft", City: "Turku", MonthlyRent: 850})
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"properties"}))
	assert.Contains(t, out.String(), "Loft")
	assert.Contains(t, out.String(), "850.00")

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"dashboard"}))
	assert.Contains(t, out.String(), "Properties:     1")
}

func TestLoginRejected(t *testing.T) {
	c, _, _ := newTestCLI(t, nil)
	err := c.run(context.Background(), []string{"login", "-u", "owner@example.com", "-p", "nope"})
	assert.EqualError(t, err, "invalid email or password")
	assert.Equal(t, 1, exitCode(err))
}

func TestLoginRequiresCredentialsWhenNotInteractive(t *testing.T) {
	t.Setenv("RENTALS_USERNAME", "")
	t.Setenv("RENTALS_PASSWORD", "")
	c, _, _ := newTestCLI(t, nil)
	err := c.run(context.Background(), []string{"login"})
	assert.ErrorIs(t, err, errUsage)
	assert.Equal(t, 2, exitCode(err))
}

func TestStatusAndLogout(t *testing.T) {
	ctx := context.Background()
	c, out, _ := newTestCLI(t, nil)

	require.NoError(t, c.run(ctx, []string{"status"}))
	assert.Contains(t, out.String(), "Not logged in")

	require.NoError(t, c.run(ctx, []string{"login", "-u", "owner@example.com", "-p", "hunter22"}))
	out.Reset()
	require.NoError(t, c.run(ctx, []string{"status"}))
	assert.Contains(t, out.String(), "access token expires in")
	assert.Contains(t, out.String(), "remembered: false")

	require.NoError(t, c.run(ctx, []string{"logout"}))
	err := c.run(ctx, []string{"token"})
	assert.Equal(t, 3, exitCode(err))
}

func TestGetPrintsBody(t *testing.T) {
	ctx := context.Background()
	c, out, _ := newTestCLI(t, nil)
	require.NoError(t, c.run(ctx, []string{"login", "-u", "owner@example.com", "-p", "hunter22"}))

	out.Reset()
	require.NoError(t, c.run(ctx, []string{"get", "profile"}))
	assert.Contains(t, out.String(), `"firstname": "Olga"`)

	out.Reset()
	err := c.run(ctx, []string{"get", "/properties/missing"})
	require.Error(t, err)
	assert.Contains(t, out.String(), "not_found")
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	c, out, _ := newTestCLI(t, nil)

	require.NoError(t, c.run(ctx, []string{"register", "-email", "new@example.com", "-password", "secret123", "-first", "Nia"}))
	assert.Contains(t, out.String(), "Registered new@example.com")
	require.NoError(t, c.run(ctx, []string{"login", "-u", "new@example.com", "-p", "secret123"}))
}

func TestRememberedLoginSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store = config.StoreSQLite
	cfg.DBPath = filepath.Join(t.TempDir(), "data", "rentals.db")
	cfg.TokenKey = "test passphrase"

	c, _, mock := newTestCLI(t, cfg)
	require.NoError(t, c.run(ctx, []string{"login", "-u", "owner@example.com", "-p", "hunter22", "-remember"}))
	c.app.Close()

	restarted, err := newApp(ctx, cfg)
	require.NoError(t, err)
	defer restarted.Close()
	var out bytes.Buffer
	c2 := &cli{app: restarted, out: &out}
	require.NoError(t, c2.run(ctx, []string{"status"}))
	assert.Contains(t, out.String(), "remembered: true")
	assert.Equal(t, int64(1), mock.PasswordGrants())
}

func TestWatchStopsOnLogout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, _ := newTestCLI(t, nil)
	require.NoError(t, c.run(ctx, []string{"login", "-u", "owner@example.com", "-p", "hunter22"}))

	var out syncBuffer
	c.out = &out
	done := make(chan error, 1)
	go func() { done <- c.run(ctx, []string{"watch", "-interval", "50ms"}) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Signed in") }, time.Second, 10*time.Millisecond)
	require.NoError(t, c.app.session.Logout(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatal("watch did not return after logout")
	}
	assert.Contains(t, out.String(), "Signed out")
}

func TestUnknownCommand(t *testing.T) {
	c, out, _ := newTestCLI(t, nil)
	err := c.run(context.Background(), []string{"frobnicate"})
	assert.ErrorIs(t, err, errUsage)
	assert.Contains(t, out.String(), "Usage: rentals")
}

func TestSwitchingUserDropsCachedProperties(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store = config.StoreSQLite
	cfg.DBPath = filepath.Join(t.TempDir(), "rentals.db")
	cfg.TokenKey = "test passphrase"
	c, out, mock := newTestCLI(t, cfg)
	require.NoError(t, mock.AddUser("tenant@example.com", "swordfish", "Tea", "Tenant"))

	require.NoError(t, c.run(ctx, []string{"login", "-u", "owner@example.com", "-p", "hunter22"}))
	_, err := c.app.rentals.CreateProperty(ctx, rentals.PropertyInput{Name: "Loft", City: "Turku"})
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, c.run(ctx, []string{"properties"}))
	assert.Contains(t, out.String(), "Loft")

	require.NoError(t, c.run(ctx, []string{"login", "-u", "tenant@example.com", "-p", "swordfish"}))
	out.Reset()
	require.NoError(t, c.run(ctx, []string{"properties"}))
	assert.NotContains(t, out.String(), "Loft")
	assert.Contains(t, out.String(), "No properties")
}
