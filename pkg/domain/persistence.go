package domain

import "context"

// SchemaRegistry answers which entity types and aspects exist. Lookups of
// unknown names fail with SchemaResolutionError.
type SchemaRegistry interface {
	EntitySpec(entityType string) (EntitySpec, error)
	AspectSpec(entityType, aspectName string) (AspectSpec, error)
	KeyAspectName(entityType string) (string, error)
}

// AspectRetriever reads the latest persisted value of aspects.
type AspectRetriever interface {
	LatestAspects(ctx context.Context, urns []Urn, aspectNames []string) (LatestAspects, error)
}

// CommitOutcome classifies the result of writing one change.
type CommitOutcome string

// Commit outcomes.
const (
	OutcomeCommitted CommitOutcome = "committed"
	OutcomeConflict  CommitOutcome = "conflict"
	// OutcomeAborted marks an item that was current but rolled back because
	// another item of the same commit conflicted.
	OutcomeAborted CommitOutcome = "aborted"
	// OutcomeSkipped marks a DELETE of an aspect that does not exist.
	// Nothing is written and no version is consumed.
	OutcomeSkipped CommitOutcome = "skipped"
)

// CommitResult is the store's per-item answer to Commit.
type CommitResult struct {
	Urn        Urn
	AspectName string
	// Version is the committed version; zero on conflict.
	Version  int64
	Previous *SystemAspect
	Outcome  CommitOutcome
	// Expected and Actual describe the version mismatch when Outcome is OutcomeConflict.
	Expected int64
	Actual   int64
}

// Conflict converts a conflicting result into its error form.
func (r CommitResult) Conflict() ConflictError {
	return ConflictError{Urn: r.Urn, AspectName: r.AspectName, Expected: r.Expected, Actual: r.Actual}
}

// RecordStore persists changes with optimistic concurrency. Commit is
// all-or-nothing: when any change was computed against a stale version the
// store writes nothing, reports OutcomeConflict for the stale items and
// OutcomeAborted for the rest. Changes are applied in input order, so a
// later change to the same aspect may expect the version written by an
// earlier one. Results are returned in input order.
//
// Versions of an aspect never repeat: a DELETE consumes a version and a
// recreated aspect continues after it, so a writer holding a snapshot from
// before the delete always conflicts.
type RecordStore interface {
	AspectRetriever
	Commit(ctx context.Context, changes []*ChangeMCP) ([]CommitResult, error)
}

// EntityExists reports, per urn, whether the entity's key aspect has been persisted.
func EntityExists(ctx context.Context, retriever AspectRetriever, registry SchemaRegistry, urns []Urn) (map[Urn]bool, error) {
	keyAspects := make([]string, 0, len(urns))
	seen := make(map[string]struct{})
	for _, urn := range urns {
		name, err := registry.KeyAspectName(urn.EntityType())
		if err != nil {
			return nil, err
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		keyAspects = append(keyAspects, name)
	}
	latest, err := retriever.LatestAspects(ctx, urns, keyAspects)
	if err != nil {
		return nil, err
	}
	out := make(map[Urn]bool, len(urns))
	for _, urn := range urns {
		name, _ := registry.KeyAspectName(urn.EntityType())
		out[urn] = latest.Has(urn, name)
	}
	return out, nil
}
