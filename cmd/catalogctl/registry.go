package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"catalogcore/internal/entitymodel"
	"catalogcore/internal/platform/config"
)

func registryCommand() *cli.Command {
	return &cli.Command{
		Name:  "registry",
		Usage: "Entity registry helpers",
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Validate an entity registry file and print its version",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true},
				},
				Action: func(_ context.Context, c *cli.Command) error {
					reg, err := entitymodel.LoadFile(c.String("file"))
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(c.Root().Writer, "registry ok: %d entities, version %s\n", len(reg.EntityNames()), reg.Version())
					return err
				},
			},
			{
				Name:  "show",
				Usage: "Print the configured entity registry",
				Action: func(_ context.Context, c *cli.Command) error {
					var cfg config.Config
					if err := config.ParseEnv(&cfg); err != nil {
						return err
					}
					reg, err := loadRegistry(cfg.EntityRegistryPath)
					if err != nil {
						return err
					}
					printRegistry(c.Root().Writer, reg)
					return nil
				},
			},
			{
				Name:  "default",
				Usage: "Print the built-in registry document",
				Action: func(_ context.Context, c *cli.Command) error {
					_, err := c.Root().Writer.Write(entitymodel.DefaultSource())
					return err
				},
			},
		},
	}
}

func printRegistry(w io.Writer, reg *entitymodel.Registry) {
	rows := make([][]string, 0, len(reg.EntityNames()))
	for _, name := range reg.EntityNames() {
		spec, err := reg.EntitySpec(name)
		if err != nil {
			continue
		}
		aspects := make([]string, 0, len(spec.Aspects))
		for a := range spec.Aspects {
			aspects = append(aspects, a)
		}
		sort.Strings(aspects)
		rows = append(rows, []string{name, spec.KeyAspectName, strings.Join(spec.KeyFields, ","), strings.Join(aspects, ",")})
	}
	printTable(w, []string{"ENTITY", "KEY_ASPECT", "KEY_FIELDS", "ASPECTS"}, rows)
	_, _ = fmt.Fprintf(w, "\nversion %s\n", reg.Version())
}
