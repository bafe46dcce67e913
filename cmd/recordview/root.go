package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/illmade-knight/go-recordview/pkg/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cli carries what every subcommand needs once the root has loaded the config.
type cli struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "recordview",
		Short:         "Read and edit project, person and organisation records",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "YAML config file (defaults and environment only when empty)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(c.newShowCmd())
	root.AddCommand(c.newEditCmd())
	root.AddCommand(c.newLoginCmd())
	root.AddCommand(c.newLogoutCmd())
	root.AddCommand(c.newServeCmd())
	return root
}

func (c *cli) setup(logOut io.Writer) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	c.cfg = cfg
	c.logger = zerolog.New(zerolog.ConsoleWriter{Out: logOut, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("service", cfg.ServiceName).
		Logger()
	return nil
}

// printedError marks a failure the command already reported on its output.
type printedError struct {
	err error
}

func (e printedError) Error() string {
	return "error already printed"
}

func (e printedError) Unwrap() error {
	return e.err
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
