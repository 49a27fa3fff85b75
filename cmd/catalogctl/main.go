// Command catalogctl drives the catalog write pipeline from the command line:
// it submits proposal files, reads aspects back through the read path and
// inspects the entity registry and installed plugins.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"catalogcore/internal/platform/config"
)

func main() {
	args := os.Args
	if len(args) == 1 {
		args = append(args, "--help")
	}
	if err := newApp().Run(context.Background(), args); err != nil {
		config.Exitf("catalogctl: %v", err)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "catalogctl",
		Usage: "Metadata catalog write pipeline",
		Commands: []*cli.Command{
			submitCommand(),
			getCommand(),
			historyCommand(),
			registryCommand(),
			pluginsCommand(),
		},
	}
}

// withRuntime loads the environment configuration, opens the runtime for the
// duration of fn and closes it afterwards.
func withRuntime(ctx context.Context, fn func(ctx context.Context, rt *runtime) error) (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = fmt.Errorf("close runtime: %w", cerr)
		}
	}()
	return fn(ctx, rt)
}
