package main

import (
	"context"
	"strconv"

	"github.com/urfave/cli/v3"

	"catalogcore/internal/core"
)

func pluginsCommand() *cli.Command {
	return &cli.Command{
		Name:  "plugins",
		Usage: "List installed plugin bundles and their registrations",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer
			return withRuntime(ctx, func(_ context.Context, rt *runtime) error {
				if c.Bool("json") {
					return printJSON(w, rt.service.Registry().Descriptors())
				}
				// Descriptors reflect config overrides; install metadata only names the bundle.
				bundles := make(map[string]core.PluginMetadata)
				for _, meta := range rt.service.RegisteredPlugins() {
					for _, d := range meta.Plugins {
						bundles[string(d.Category)+"/"+d.Name] = meta
					}
				}
				var rows [][]string
				for _, d := range rt.service.Registry().Descriptors() {
					meta := bundles[string(d.Category)+"/"+d.Name]
					rows = append(rows, []string{meta.Name, meta.Version, string(d.Category), d.Name, strconv.FormatBool(d.Enabled)})
				}
				printTable(w, []string{"BUNDLE", "VERSION", "CATEGORY", "PLUGIN", "ENABLED"}, rows)
				return nil
			})
		},
	}
}
