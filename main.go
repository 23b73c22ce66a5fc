package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/raine/rentals-client/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()

	interactive := isInteractiveTerminal()
	if missing := checkRequiredConfig(); len(missing) > 0 && interactive && wantsSetup(os.Args[1:]) {
		if !runSetupWizard() {
			waitOnWindows()
			os.Exit(1)
		}
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		fatalWithWait("%v", err)
	}
	setupLogging(cfg)

	// Cancel on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		fatalWithWait("failed to initialize: %v", err)
	}

	c := &cli{app: a, out: os.Stdout, interactive: interactive}
	err = c.run(ctx, os.Args[1:])
	a.Close()

	if err != nil && !errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, warnStyle.Render("Error: ")+err.Error())
	}
	os.Exit(exitCode(err))
}

// wantsSetup is false for invocations that only print help.
func wantsSetup(args []string) bool {
	return len(args) > 0 && args[0] != "-h" && args[0] != "--help" && args[0] != "help"
}

// setupLogging applies the configured level. LOG_FILE additionally tees the
// log into a file.
func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFileName := os.Getenv("LOG_FILE")
	if logFileName == "" {
		return
	}
	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Warn().Err(err).Str("logFile", logFileName).Msg("failed to open log file")
		return
	}

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
	fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
	log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
	log.Debug().Str("logFile", logFileName).Msg("logging to file")
}
