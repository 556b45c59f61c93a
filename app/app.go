package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/tilde/app/config"
	actx "go.hackfix.me/tilde/app/context"
	"go.hackfix.me/tilde/cli"
)

// BindPasswordEnvVar is the environment variable that overrides the directory
// bind password set in the configuration file.
const BindPasswordEnvVar = "TILDE_BIND_PASSWORD"

// App is the application.
type App struct {
	name string
	ctx  *actx.Context
	cli  *cli.CLI
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application.
func New(name, configFilePath string, opts ...Option) (*App, error) {
	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		Version: actx.GetVersion(),
	}
	app := &App{name: name, ctx: defaultCtx}

	for _, opt := range opts {
		opt(app)
	}

	var err error
	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(configFilePath, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	if err := app.loadConfig(); err != nil {
		return err
	}

	app.ctx.Logger.Debug("running command", "command", app.cli.Command())
	if err := app.cli.Execute(app.ctx); err != nil {
		return err
	}

	return nil
}

// loadConfig reads the configuration file, fills in defaults and environment
// overrides, and applies it to the CLI.
func (app *App) loadConfig() error {
	if app.ctx.Config == nil {
		app.ctx.Config = config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
		if err := app.ctx.Config.Load(); err != nil {
			return err
		}
	}

	cfg := app.ctx.Config
	cfg.SetDefaults()
	if app.ctx.Env != nil {
		if pw := app.ctx.Env.Get(BindPasswordEnvVar); pw != "" {
			cfg.Directory.BindPassword.V, cfg.Directory.BindPassword.Valid = pw, true
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	app.cli.ApplyConfig(cfg)

	return nil
}
