package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"catalogcore/internal/core"
	"catalogcore/pkg/domain"
)

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Submit change proposals from a JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "JSON array of proposals, or an array of proposal batches"},
			&cli.StringFlag{Name: "actor", Value: string(domain.SystemActor), Usage: "urn recorded in audit stamps"},
			&cli.BoolFlag{Name: "json", Usage: "output raw JSON"},
			&cli.BoolFlag{Name: "metrics", Usage: "print pipeline metrics after the run"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			proposals, err := readProposals(c.String("file"))
			if err != nil {
				return err
			}
			w := c.Root().Writer
			return withRuntime(ctx, func(ctx context.Context, rt *runtime) error {
				batches, err := rt.proposedBatches(proposals, domain.Urn(c.String("actor")))
				if err != nil {
					return err
				}
				outcomes, err := rt.service.SubmitBatches(ctx, batches)
				if err != nil {
					return err
				}
				report := newSubmitReport(outcomes)
				if c.Bool("json") {
					if err := printJSON(w, report); err != nil {
						return err
					}
				} else {
					printSubmitReport(w, report)
				}
				if c.Bool("metrics") {
					if err := printMetrics(w, rt.metrics); err != nil {
						return err
					}
				}
				return report.err()
			})
		},
	}
}

// readProposals decodes either a single batch (an array of proposals) or a
// list of batches (an array of arrays).
func readProposals(path string) ([][]domain.ChangeProposal, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proposals: %w", err)
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, fmt.Errorf("decode %s: expected a JSON array: %w", path, err)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%s contains no proposals", path)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(elems[0]), []byte("[")) {
		var batch []domain.ChangeProposal
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return [][]domain.ChangeProposal{batch}, nil
	}
	batches := make([][]domain.ChangeProposal, len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &batches[i]); err != nil {
			return nil, fmt.Errorf("decode %s batch %d: %w", path, i, err)
		}
	}
	return batches, nil
}

func (rt *runtime) proposedBatches(proposals [][]domain.ChangeProposal, actor domain.Urn) ([][]domain.BatchItem, error) {
	now := rt.service.Now()
	audit := domain.NewAuditStamp(actor, now)
	out := make([][]domain.BatchItem, len(proposals))
	for i, batch := range proposals {
		items := make([]domain.BatchItem, 0, len(batch))
		for j, p := range batch {
			item, err := domain.NewProposedItem(rt.registry, p, audit, now)
			if err != nil {
				return nil, fmt.Errorf("batch %d proposal %d: %w", i, j, err)
			}
			items = append(items, item)
		}
		out[i] = items
	}
	return out, nil
}

type submitReport struct {
	Batches   []batchReport `json:"batches"`
	Committed int           `json:"committed"`
	Rejected  int           `json:"rejected"`
	Failed    int           `json:"failed"`
}

type batchReport struct {
	Index       int               `json:"index"`
	Committed   []committedAspect `json:"committed,omitempty"`
	Exceptions  []exceptionReport `json:"exceptions,omitempty"`
	PreCommit   []exceptionReport `json:"preCommit,omitempty"`
	// SideEffects lists rejected derived items; they do not count as rejected.
	SideEffects []exceptionReport `json:"sideEffects,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type committedAspect struct {
	Urn        domain.Urn        `json:"urn"`
	Aspect     string            `json:"aspect"`
	ChangeType domain.ChangeType `json:"changeType"`
	Version    int64             `json:"version"`
}

type exceptionReport struct {
	Urn     domain.Urn `json:"urn"`
	Aspect  string     `json:"aspect"`
	Message string     `json:"message"`
}

func newSubmitReport(outcomes []core.BatchOutcome) submitReport {
	report := submitReport{Batches: make([]batchReport, 0, len(outcomes))}
	for i, o := range outcomes {
		b := batchReport{Index: i}
		if o.Err != nil {
			b.Error = o.Err.Error()
			report.Failed++
		}
		for _, c := range o.Result.Committed {
			b.Committed = append(b.Committed, committedAspect{Urn: c.Urn(), Aspect: c.AspectName(), ChangeType: c.ChangeType(), Version: c.NextAspectVersion()})
		}
		b.Exceptions = exceptionReports(o.Exceptions)
		b.PreCommit = exceptionReports(o.Result.PreCommit)
		b.SideEffects = exceptionReports(o.Result.SideEffectRejections)
		report.Committed += len(b.Committed)
		report.Rejected += o.Exceptions.Len()
		report.Batches = append(report.Batches, b)
	}
	return report
}

func exceptionReports(c *domain.ValidationExceptionCollection) []exceptionReport {
	var out []exceptionReport
	for _, e := range c.All() {
		out = append(out, exceptionReport{Urn: e.Key.Urn, Aspect: e.Key.AspectName, Message: e.Message})
	}
	return out
}

func (r submitReport) err() error {
	switch {
	case r.Failed > 0:
		return fmt.Errorf("%d of %d batch(es) failed", r.Failed, len(r.Batches))
	case r.Rejected > 0:
		return fmt.Errorf("%d aspect(s) rejected", r.Rejected)
	}
	return nil
}

func printSubmitReport(w io.Writer, r submitReport) {
	var committed, rejected [][]string
	for _, b := range r.Batches {
		batch := strconv.Itoa(b.Index)
		for _, c := range b.Committed {
			committed = append(committed, []string{batch, string(c.Urn), c.Aspect, string(c.ChangeType), strconv.FormatInt(c.Version, 10)})
		}
		for _, e := range b.Exceptions {
			rejected = append(rejected, []string{batch, string(e.Urn), e.Aspect, e.Message})
		}
		for _, e := range b.PreCommit {
			rejected = append(rejected, []string{batch, string(e.Urn), e.Aspect, "pre-commit: " + e.Message})
		}
		for _, e := range b.SideEffects {
			rejected = append(rejected, []string{batch, string(e.Urn), e.Aspect, "side effect: " + e.Message})
		}
		if b.Error != "" {
			rejected = append(rejected, []string{batch, "-", "-", b.Error})
		}
	}
	printTable(w, []string{"BATCH", "URN", "ASPECT", "CHANGE", "VERSION"}, committed)
	if len(rejected) > 0 {
		_, _ = fmt.Fprintln(w)
		printTable(w, []string{"BATCH", "URN", "ASPECT", "REASON"}, rejected)
	}
	_, _ = fmt.Fprintf(w, "\ncommitted %d, rejected %d\n", r.Committed, r.Rejected)
}
