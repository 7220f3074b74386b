package cli

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vk/orgmigrate/internal/app"
	"github.com/vk/orgmigrate/internal/config"
	"github.com/vk/orgmigrate/internal/hcl_adapter"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// usageError marks invalid command-line input.
func usageError(err error) error {
	return &ExitError{Code: 2, Message: err.Error()}
}

type globalFlags struct {
	configPath      string
	logFormat       string
	logLevel        string
	healthcheckPort int
	resume          bool
}

// command carries what every subcommand needs to build its App.
type command struct {
	outW   io.Writer
	flags  globalFlags
	loader config.Loader
}

// NewRootCommand builds the command tree. Output and logs go to outW.
func NewRootCommand(outW io.Writer, loader config.Loader) *cobra.Command {
	c := &command{outW: outW, loader: loader}

	root := &cobra.Command{
		Use:   "orgmigrate",
		Short: "Migrate records between two platform environments in dependency order",
		Long: color.RGB(50, 108, 229).Sprint("Usage: orgmigrate [global options] <stage> [ENTITY...]") + "\n\n" +
			"orgmigrate describes entities in the source environment, extracts their\n" +
			"records, orders them so referenced entities load first, upserts them into\n" +
			"the target environment and compares what landed with what was sent.\n",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.flags.logFormat = strings.ToLower(c.flags.logFormat)
			c.flags.logLevel = strings.ToLower(c.flags.logLevel)
			_, err := c.appConfig()
			return err
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&c.flags.configPath, "config", "c", "migration.hcl", "Path to the migration configuration file.")
	pf.StringVar(&c.flags.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	pf.StringVar(&c.flags.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	pf.IntVar(&c.flags.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check and metrics server. 0 is disabled.")
	pf.BoolVar(&c.flags.resume, "resume", false, "Skip entities a previous run already queried or loaded.")

	root.AddCommand(
		c.schemasCommand(),
		c.stageCommand("query [ENTITY...]", "Extract records from the source environment",
			func(ctx context.Context, a *app.App, args []string) error {
				_, err := a.Query(ctx, args)
				return err
			}),
		c.stageCommand("tree", "Build the dependency forest and the load order",
			func(ctx context.Context, a *app.App, _ []string) error {
				_, _, err := a.Tree(ctx)
				return err
			}),
		c.stageCommand("load [ENTITY...]", "Upsert records into the target environment in load order",
			func(ctx context.Context, a *app.App, args []string) error {
				_, err := a.Load(ctx, args)
				return err
			}),
		c.stageCommand("analyze [ENTITY...]", "Compare source records with the records the target accepted",
			func(ctx context.Context, a *app.App, args []string) error {
				_, err := a.Analyze(ctx, args)
				return err
			}),
		c.stageCommand("run [ENTITY...]", "Run schemas, query, tree and load in sequence",
			func(ctx context.Context, a *app.App, args []string) error {
				return a.Run(ctx, args)
			}),
	)

	styleUsage(root)
	return root
}

func (c *command) schemasCommand() *cobra.Command {
	var refresh bool
	cmd := c.stageCommand("schemas [ENTITY...]", "Describe entities and everything they reference",
		func(ctx context.Context, a *app.App, args []string) error {
			_, err := a.Schemas(ctx, args, refresh)
			return err
		})
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Re-describe every stored entity instead.")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if refresh && len(args) > 0 {
			return usageError(errors.New("--refresh does not take entity names"))
		}
		return nil
	}
	return cmd
}

type stageFunc func(ctx context.Context, a *app.App, args []string) error

func (c *command) stageCommand(use, short string, run stageFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.appConfig()
			if err != nil {
				return err
			}
			a, err := app.NewApp(c.outW, cfg, c.loader)
			if err != nil {
				return err
			}
			a.Start()
			defer a.Close()
			return run(cmd.Context(), a, args)
		},
	}
	if !strings.Contains(use, "ENTITY") {
		cmd.Args = func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return usageError(err)
			}
			return nil
		}
	}
	return cmd
}

func (c *command) appConfig() (*app.Config, error) {
	cfg, err := app.NewConfig(app.Config{
		ConfigPath:      c.flags.configPath,
		LogFormat:       c.flags.logFormat,
		LogLevel:        c.flags.logLevel,
		HealthcheckPort: c.flags.healthcheckPort,
		Resume:          c.flags.resume,
	})
	if err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

var registerTemplateFuncs sync.Once

func styleUsage(root *cobra.Command) {
	registerTemplateFuncs.Do(func() {
		cobra.AddTemplateFunc("StyleHeading", color.RGB(50, 108, 229).SprintFunc())
	})
	root.SetUsageTemplate(strings.NewReplacer(
		`Usage:`, `{{StyleHeading "Usage:"}}`,
		`Available Commands:`, `{{StyleHeading "Stages:"}}`,
		`Flags:`, `{{StyleHeading "Options:"}}`,
		`Global Flags:`, `{{StyleHeading "Global Options:"}}`,
	).Replace(root.UsageTemplate()))
}

// Execute parses args and runs the selected stage.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	root := NewRootCommand(outW, hcl_adapter.NewLoader())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
