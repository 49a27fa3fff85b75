package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/urfave/cli/v3"

	"catalogcore/pkg/domain"
)

type aspectView struct {
	Aspect    string                `json:"aspect"`
	Version   int64                 `json:"version"`
	CreatedOn string                `json:"createdOn"`
	CreatedBy domain.Urn            `json:"createdBy"`
	Record    domain.Record         `json:"value"`
	Metadata  domain.SystemMetadata `json:"systemMetadata"`
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "Read the latest aspects of an entity through the read pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "urn", Required: true},
			&cli.StringSliceFlag{Name: "aspect", Usage: "aspect to read; repeat for several, omit for all"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			urn, err := domain.ParseUrn(c.String("urn"))
			if err != nil {
				return err
			}
			w := c.Root().Writer
			return withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
				views, err := rt.read(ctx, urn, c.StringSlice("aspect"))
				if err != nil {
					return err
				}
				if c.Bool("json") {
					return printJSON(w, views)
				}
				printAspects(w, views)
				return nil
			})
		},
	}
}

// read fetches the latest aspects and passes them through read mutation
// hooks as query items.
func (rt *runtime) read(ctx context.Context, urn domain.Urn, aspects []string) ([]aspectView, error) {
	latest, err := rt.store.LatestAspects(ctx, []domain.Urn{urn}, aspects)
	if err != nil {
		return nil, fmt.Errorf("fetch latest aspects: %w", err)
	}
	stored := latest[urn]
	names := make([]string, 0, len(stored))
	for name := range stored {
		names = append(names, name)
	}
	sort.Strings(names)

	items := make([]domain.BatchItem, 0, len(names))
	for _, name := range names {
		sa := stored[name]
		item, err := domain.NewQueryItem(rt.registry, urn, name, sa.Record, sa.SystemMetadata)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, nil
	}
	res, _, err := rt.service.Submit(ctx, items)
	if err != nil {
		return nil, err
	}
	views := make([]aspectView, 0, len(res.Reads))
	for _, q := range res.Reads {
		sa := stored[q.AspectName()]
		views = append(views, aspectView{
			Aspect:    q.AspectName(),
			Version:   sa.Version,
			CreatedOn: formatTime(sa.CreatedOn),
			CreatedBy: sa.CreatedBy,
			Record:    q.Record(),
			Metadata:  q.SystemMetadata(),
		})
	}
	return views, nil
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List every stored version of one aspect",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "urn", Required: true},
			&cli.StringFlag{Name: "aspect", Required: true},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			urn, err := domain.ParseUrn(c.String("urn"))
			if err != nil {
				return err
			}
			w := c.Root().Writer
			return withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
				h, ok := rt.store.(historian)
				if !ok {
					return fmt.Errorf("storage driver %s keeps no history", rt.cfg.Storage.Driver)
				}
				versions, err := h.History(ctx, urn, c.String("aspect"))
				if err != nil {
					return err
				}
				views := make([]aspectView, 0, len(versions))
				for _, v := range versions {
					views = append(views, aspectView{
						Aspect:    v.AspectName,
						Version:   v.Version,
						CreatedOn: formatTime(v.CreatedOn),
						CreatedBy: v.CreatedBy,
						Record:    v.Record,
						Metadata:  v.SystemMetadata,
					})
				}
				if c.Bool("json") {
					return printJSON(w, views)
				}
				printAspects(w, views)
				return nil
			})
		},
	}
}

func printAspects(w io.Writer, views []aspectView) {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		rows = append(rows, []string{v.Aspect, strconv.FormatInt(v.Version, 10), v.CreatedOn, string(v.CreatedBy), v.Record.String()})
	}
	printTable(w, []string{"ASPECT", "VERSION", "CREATED_ON", "CREATED_BY", "VALUE"}, rows)
}
