package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/EgorLis/packbot/internal/bot"
)

type options struct {
	config    string
	envFile   string
	database  string
	logLevel  string
	logFormat string
}

func parseFlags(args []string) (options, error) {
	var o options
	flags := pflag.NewFlagSet("packbot", pflag.ContinueOnError)
	flags.StringVarP(&o.config, "config", "c", "conf/packbot.jsonc", "path to the bot config (JSON with comments)")
	flags.StringVar(&o.envFile, "env", ".env", "dotenv file with secrets, ignored if missing")
	flags.StringVar(&o.database, "db", "", "sqlite database path, overrides the config")
	flags.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.StringVar(&o.logFormat, "log-format", "text", "text or json")
	if err := flags.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func newLogger(o options) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", o.logLevel, err)
	}
	ho := &slog.HandlerOptions{Level: level}
	switch o.logFormat {
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, ho)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, ho)), nil
	}
	return nil, fmt.Errorf("log format %q: want text or json", o.logFormat)
}

func run(args []string) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(o)
	if err != nil {
		return err
	}

	if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("env %s: %w", o.envFile, err)
	}

	cfg, err := bot.LoadConfig(o.config)
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if o.database != "" {
		cfg.Database = o.database
	}

	b, err := bot.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return err
	}
	defer b.Stop()

	logger.Info("running, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "packbot:", err)
		os.Exit(1)
	}
}
