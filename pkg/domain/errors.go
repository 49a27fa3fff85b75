package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced by the write path.
var (
	// ErrDuplicateAspects is returned when a batch targets the same item identity twice.
	ErrDuplicateAspects = errors.New("batch contains duplicate aspects")
	// ErrSideEffectRecursion is returned when side effects keep producing items past the depth cap.
	ErrSideEffectRecursion = errors.New("side effect expansion exceeded maximum depth")
	// ErrRegistryFrozen is returned when plugins are registered after startup.
	ErrRegistryFrozen = errors.New("plugin registry is frozen")
)

// SchemaResolutionError reports an entity type or aspect unknown to the schema registry.
type SchemaResolutionError struct {
	EntityType string
	AspectName string
}

func (e SchemaResolutionError) Error() string {
	if e.AspectName == "" {
		return fmt.Sprintf("unknown entity type %q", e.EntityType)
	}
	return fmt.Sprintf("unknown aspect %q for entity type %q", e.AspectName, e.EntityType)
}

// UnsupportedChangeTypeError reports a change type the aspect does not permit.
type UnsupportedChangeTypeError struct {
	ChangeType ChangeType
	EntityType string
	AspectName string
}

func (e UnsupportedChangeTypeError) Error() string {
	return fmt.Sprintf("change type %s not supported for aspect %s of %s", e.ChangeType, e.AspectName, e.EntityType)
}

// PatchApplicationError reports a malformed patch or a patch that does not
// apply to the current record.
type PatchApplicationError struct {
	Op     string
	Path   string
	Reason string
}

func (e PatchApplicationError) Error() string {
	if e.Op == "" {
		return "patch: " + e.Reason
	}
	return fmt.Sprintf("patch %s %q: %s", e.Op, e.Path, e.Reason)
}

// ConflictError reports an optimistic-concurrency version mismatch for one item.
type ConflictError struct {
	Urn        Urn
	AspectName string
	Expected   int64
	Actual     int64
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: expected %d, found %d", e.Urn, e.AspectName, e.Expected, e.Actual)
}

// BatchConflictError is returned when the store rejected a batch because at
// least one item was written against a stale version. Nothing was committed.
type BatchConflictError struct {
	Conflicts []ConflictError
}

func (e *BatchConflictError) Error() string {
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.Error())
	}
	return "batch rejected: " + strings.Join(parts, "; ")
}

// PluginExecutionError wraps a failure escaping a plugin. It aborts the batch.
type PluginExecutionError struct {
	Plugin   string
	Category string
	Stage    string
	Err      error
}

func (e PluginExecutionError) Error() string {
	return fmt.Sprintf("plugin %s (%s) failed during %s: %v", e.Plugin, e.Category, e.Stage, e.Err)
}

func (e PluginExecutionError) Unwrap() error { return e.Err }

// ItemError pairs a rejected item with the reason it never entered the pipeline.
type ItemError struct {
	Item BatchItem
	Err  error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Item.Urn(), e.Item.AspectName(), e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }
