package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nickyhof/BranchDB"
	"github.com/nickyhof/BranchDB/config"
	"github.com/nickyhof/BranchDB/core"
	"github.com/nickyhof/BranchDB/db"
	"github.com/nickyhof/BranchDB/logger"
)

// rootOptions holds global flags for all commands
type rootOptions struct {
	configPath string
	format     string // "json" | "text"
	name       string
	email      string
	verbose    bool
}

var validFormats = []string{"text", "json"}

// openFunc opens the instance commands run against
type openFunc func(ctx context.Context, opts *rootOptions) (*BranchDB.Instance, error)

// cli is the state shared by one command invocation
type cli struct {
	opts     *rootOptions
	open     openFunc
	instance *BranchDB.Instance
}

func newRootCommand(open openFunc) *cobra.Command {
	c := &cli{opts: &rootOptions{}, open: open}

	cmd := &cobra.Command{
		Use:           "branchdb",
		Short:         "BranchDB - JSON documents on per-user branches",
		Long:          "Administer a BranchDB store: bootstrap branches, inspect profiles and showcases, and maintain the registry.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == c.opts.format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", c.opts.format, validFormats)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.instance == nil {
				return nil
			}
			return c.instance.Close()
		},
	}

	cmd.PersistentFlags().StringVarP(&c.opts.configPath, "config", "c", "", "config file (branchdb.yaml if empty)")
	cmd.PersistentFlags().StringVar(&c.opts.format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&c.opts.name, "name", "", "author name for commits")
	cmd.PersistentFlags().StringVar(&c.opts.email, "email", "", "author email for commits")
	cmd.PersistentFlags().BoolVarP(&c.opts.verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(
		newVersionCommand(),
		newEnsureBranchCommand(c),
		newProfileCommand(c),
		newShowcaseCommand(c),
		newRegistryCommand(c),
		newSyncCommand(c),
		newHistoryCommand(c),
	)
	return cmd
}

// openFromConfig opens the backend described by the config file and env
func openFromConfig(ctx context.Context, opts *rootOptions) (*BranchDB.Instance, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if opts.verbose {
		level = zerolog.LevelDebugValue
	}
	logData, err := logger.New().FromPath(cfg.Log.File).Level(level).Format("console").Make()
	if err != nil {
		return nil, err
	}

	return BranchDB.OpenConfig(ctx, cfg, logData.Logger)
}

func (c *cli) connect(cmd *cobra.Command) (*BranchDB.Instance, error) {
	if c.instance != nil {
		return c.instance, nil
	}
	instance, err := c.open(cmd.Context(), c.opts)
	if err != nil {
		return nil, err
	}
	c.instance = instance
	return instance, nil
}

// engine returns a domain engine committing as the --name/--email identity
func (c *cli) engine(cmd *cobra.Command) (*db.Engine, error) {
	instance, err := c.connect(cmd)
	if err != nil {
		return nil, err
	}
	return instance.Engine(core.Identity{Name: c.opts.name, Email: c.opts.email}), nil
}

// emit prints v as JSON, or calls text for the text format
func (c *cli) emit(w io.Writer, v any, text func()) error {
	if c.opts.format == "json" {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(v)
	}
	text()
	return nil
}

func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s✓ %s%s\n", SuccessColor, fmt.Sprintf(format, args...), ResetColor)
}
