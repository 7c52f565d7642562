// Package ctl implements pindropctl, the operator CLI: schema migrations,
// one-off lifecycle sweeps for an external scheduler, PIN and token helpers.
package ctl

import (
	"context"

	"github.com/dmitrijs2005/pindrop/internal/server"
	"github.com/dmitrijs2005/pindrop/internal/server/config"
	"github.com/spf13/cobra"
)

// options are shared by every subcommand.
type options struct {
	configPath string
}

// serverApp is the part of server.App the database commands need.
type serverApp interface {
	Migrate(ctx context.Context) error
	Sweep(ctx context.Context) (sweepReport, error)
	Usage(ctx context.Context, ownerID string) (used, capBytes int64, err error)
	Close() error
}

// newApp is replaced in tests.
var newApp = func(ctx context.Context, cfg *config.Config) (serverApp, error) {
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

var _ serverApp = (*server.App)(nil)

func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "pindropctl",
		Short:         "Operator tool for the pindrop server",
		Long:          "pindropctl runs schema migrations and lifecycle sweeps against the pindrop database and helps with PINs and owner tokens.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the server JSON config file")

	root.AddCommand(newMigrateCmd(opts))
	root.AddCommand(newSweepCmd(opts))
	root.AddCommand(newUsageCmd(opts))
	root.AddCommand(newPinCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	return root
}

func (o *options) load() (*config.Config, error) {
	return config.LoadFile(o.configPath)
}

// withApp loads the config, builds the server app and closes it afterwards.
func (o *options) withApp(ctx context.Context, fn func(serverApp) error) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
