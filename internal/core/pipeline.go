package core

import (
	"context"
	"errors"
	"fmt"

	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

// Pipeline stage names. They label metrics, spans and PluginExecutionError.
const (
	StageReadMutation  = "read_mutation"
	StageNormalize     = "normalize"
	StageValidate      = "validate_proposed"
	StageMCPSideEffect = "mcp_side_effects"
	StagePersist       = "persist"
	StagePreCommit     = "validate_pre_commit"
	StageWriteMutation = "write_mutation"
	StageMCLSideEffect = "mcl_side_effects"
	StageEmit          = "emit_change_log"
)

// invoke runs one plugin call, converting errors and panics into
// PluginExecutionError.
func invoke[T any](cfg pluginapi.PluginConfig, category pluginapi.Category, stage string, fn func() (T, error)) (out T, err error) {
	wrap := func(cause error) error {
		return domain.PluginExecutionError{Plugin: cfg.Name, Category: string(category), Stage: stage, Err: cause}
	}
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out, err = zero, wrap(fmt.Errorf("panic: %v", r))
		}
	}()
	out, err = fn()
	if err != nil {
		return out, wrap(err)
	}
	return out, nil
}

// applicable returns the indexes of items the registered plugin handles.
func applicable[T pluginapi.Spec, I domain.BatchItem](reg Registered[T], items []I) []int {
	var idx []int
	for i, item := range items {
		if reg.Applies(item) {
			idx = append(idx, i)
		}
	}
	return idx
}

func pick[I any](items []I, idx []int) []I {
	out := make([]I, len(idx))
	for i, j := range idx {
		out[i] = items[j]
	}
	return out
}

func asBatchItems[I domain.BatchItem](items []I) []domain.BatchItem {
	out := make([]domain.BatchItem, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

// splice writes replacement items back into their positions after checking
// the hook kept their identity.
func splice[I domain.BatchItem](cfg pluginapi.PluginConfig, stage string, items []I, idx []int, replaced []I) error {
	fail := func(format string, args ...any) error {
		return domain.PluginExecutionError{Plugin: cfg.Name, Category: string(pluginapi.CategoryMutationHook), Stage: stage, Err: fmt.Errorf(format, args...)}
	}
	if len(replaced) != len(idx) {
		return fail("returned %d items for %d inputs", len(replaced), len(idx))
	}
	for i, j := range idx {
		next := replaced[i]
		if any(next) == nil {
			return fail("returned nil item at position %d", i)
		}
		if next.Identity() != items[j].Identity() {
			return fail("replaced %s with %s", items[j].Identity(), next.Identity())
		}
		items[j] = next
	}
	return nil
}

// ApplyReadMutationHooks lets mutation hooks rewrite query items. The result
// has the same length and order as items.
func ApplyReadMutationHooks(ctx context.Context, rc RetrieverContext, items []*domain.QueryItem) ([]*domain.QueryItem, error) {
	out := append([]*domain.QueryItem(nil), items...)
	for _, reg := range rc.plugins().AllMutationHooks() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := applicable(reg, out)
		if len(idx) == 0 {
			continue
		}
		replaced, err := invoke(reg.Config, pluginapi.CategoryMutationHook, StageReadMutation, func() ([]*domain.QueryItem, error) {
			return reg.Plugin.ReadMutation(ctx, pick(out, idx), rc)
		})
		if err != nil {
			return nil, err
		}
		if err := splice(reg.Config, StageReadMutation, out, idx, replaced); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ApplyWriteMutationHooks lets mutation hooks rewrite committed changes. The
// result has the same length and order as changes.
func ApplyWriteMutationHooks(ctx context.Context, rc RetrieverContext, changes []*domain.ChangeMCP) ([]*domain.ChangeMCP, error) {
	out := append([]*domain.ChangeMCP(nil), changes...)
	for _, reg := range rc.plugins().AllMutationHooks() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := applicable(reg, out)
		if len(idx) == 0 {
			continue
		}
		replaced, err := invoke(reg.Config, pluginapi.CategoryMutationHook, StageWriteMutation, func() ([]*domain.ChangeMCP, error) {
			return reg.Plugin.WriteMutation(ctx, pick(out, idx), rc)
		})
		if err != nil {
			return nil, err
		}
		if err := splice(reg.Config, StageWriteMutation, out, idx, replaced); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ValidateProposed runs every applicable validator over items without short
// circuiting and collects their exceptions.
func ValidateProposed(ctx context.Context, rc RetrieverContext, items []domain.BatchItem) (*domain.ValidationExceptionCollection, error) {
	exceptions := domain.NewValidationExceptionCollection()
	for _, reg := range rc.plugins().AllValidators() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := applicable(reg, items)
		if len(idx) == 0 {
			continue
		}
		found, err := invoke(reg.Config, pluginapi.CategoryValidator, StageValidate, func() ([]domain.ValidationException, error) {
			return reg.Plugin.ValidateProposed(ctx, pick(items, idx), rc)
		})
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			exceptions.Add(e)
		}
	}
	return exceptions, nil
}

// ValidatePreCommit runs every applicable validator over persisted changes.
// The exceptions are informational; nothing is rolled back.
func ValidatePreCommit(ctx context.Context, rc RetrieverContext, changes []*domain.ChangeMCP) (*domain.ValidationExceptionCollection, error) {
	exceptions := domain.NewValidationExceptionCollection()
	for _, reg := range rc.plugins().AllValidators() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := applicable(reg, changes)
		if len(idx) == 0 {
			continue
		}
		found, err := invoke(reg.Config, pluginapi.CategoryValidator, StagePreCommit, func() ([]domain.ValidationException, error) {
			return reg.Plugin.ValidatePreCommit(ctx, pick(changes, idx), rc)
		})
		if err != nil {
			return nil, err
		}
		for _, e := range found {
			exceptions.Add(e)
		}
	}
	return exceptions, nil
}

// ApplyMCPSideEffects collects the items derived from changes by every
// applicable side effect. Derived items must be changes or proposals.
func ApplyMCPSideEffects(ctx context.Context, rc RetrieverContext, changes []*domain.ChangeMCP) ([]domain.BatchItem, error) {
	var derived []domain.BatchItem
	for _, reg := range rc.plugins().AllMCPSideEffects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := applicable(reg, changes)
		if len(idx) == 0 {
			continue
		}
		items, err := invoke(reg.Config, pluginapi.CategoryMCPSideEffect, StageMCPSideEffect, func() ([]domain.BatchItem, error) {
			return reg.Plugin.Apply(ctx, pick(changes, idx), rc)
		})
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			switch item.(type) {
			case *domain.ChangeMCP, *domain.ProposedItem:
				derived = append(derived, item)
			default:
				return nil, domain.PluginExecutionError{
					Plugin:   reg.Config.Name,
					Category: string(pluginapi.CategoryMCPSideEffect),
					Stage:    StageMCPSideEffect,
					Err:      fmt.Errorf("derived item %T is not a write", item),
				}
			}
		}
	}
	return derived, nil
}

// ApplyMCLSideEffects collects the extra change-log entries derived from items.
func ApplyMCLSideEffects(ctx context.Context, rc RetrieverContext, items []*domain.ChangeLogItem) ([]*domain.ChangeLogItem, error) {
	var derived []*domain.ChangeLogItem
	for _, reg := range rc.plugins().AllMCLSideEffects() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var subset []*domain.ChangeLogItem
		for _, item := range items {
			if reg.Config.ShouldApply(item.ChangeType, item.EntityType, item.AspectName) {
				subset = append(subset, item)
			}
		}
		if len(subset) == 0 {
			continue
		}
		extra, err := invoke(reg.Config, pluginapi.CategoryMCLSideEffect, StageMCLSideEffect, func() ([]*domain.ChangeLogItem, error) {
			return reg.Plugin.Apply(ctx, subset, rc)
		})
		if err != nil {
			return nil, err
		}
		for _, e := range extra {
			if e != nil {
				derived = append(derived, e)
			}
		}
	}
	return derived, nil
}

// pluginFailure extracts plugin identity from err for logging.
func pluginFailure(err error) (domain.PluginExecutionError, bool) {
	var pe domain.PluginExecutionError
	ok := errors.As(err, &pe)
	return pe, ok
}
