package core

import (
	"context"
	"errors"
	"testing"

	"catalogcore/internal/entitymodel"
	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

func testContext(t *testing.T, register func(r *PluginRegistry)) RetrieverContext {
	t.Helper()
	r := NewPluginRegistry()
	register(r)
	return RetrieverContext{PluginRegistry: r, SchemaRegistry: entitymodel.Default()}
}

func TestValidateProposedRunsEveryValidator(t *testing.T) {
	first := &fakeValidator{BaseSpec: pluginapi.BaseSpec{PluginConfig: cfg("first", writeOps, "*/*")}, proposed: rejectAspect("status", "first says no")}
	second := &fakeValidator{BaseSpec: pluginapi.BaseSpec{PluginConfig: cfg("second", writeOps, "*/*")}, proposed: rejectAspect("status", "second says no")}
	other := &fakeValidator{BaseSpec: pluginapi.BaseSpec{PluginConfig: cfg("other", writeOps, "corpuser/*")}}
	rc := testContext(t, func(r *PluginRegistry) {
		for _, v := range []*fakeValidator{first, second, other} {
			if err := r.RegisterValidator(v); err != nil {
				t.Fatalf("RegisterValidator: %v", err)
			}
		}
	})
	status := change(t, u1, "status", domain.ChangeUpsert, map[string]any{"removed": false})
	found, err := ValidateProposed(context.Background(), rc, items(status))
	if err != nil {
		t.Fatalf("ValidateProposed: %v", err)
	}
	got := found.Exceptions(domain.KeyOf(status))
	if len(got) != 2 || got[0].Message != "first says no" || got[1].Message != "second says no" {
		t.Fatalf("expected both validators to report, got %+v", got)
	}
	if len(other.validated()) != 0 {
		t.Fatalf("corpuser validator should not see dataset items")
	}
}

func TestInvokeConvertsPanics(t *testing.T) {
	out, err := invoke(cfg("p", writeOps, "*/*"), pluginapi.CategoryMCLSideEffect, StageMCLSideEffect, func() (int, error) {
		panic("boom")
	})
	var pe domain.PluginExecutionError
	if out != 0 || !errors.As(err, &pe) || pe.Plugin != "p" || pe.Stage != StageMCLSideEffect {
		t.Fatalf("unexpected result %d %v", out, err)
	}
	cause := errors.New("cause")
	_, err = invoke(cfg("p", writeOps, "*/*"), pluginapi.CategoryValidator, StageValidate, func() (int, error) { return 1, cause })
	if !errors.Is(err, cause) {
		t.Fatalf("plugin error should be wrapped, got %v", err)
	}
}

func TestReadMutationLengthMismatch(t *testing.T) {
	dropper := &fakeHook{
		BaseSpec: pluginapi.BaseSpec{PluginConfig: cfg("dropper", nil, "*/*")},
		read:     func([]*domain.QueryItem) ([]*domain.QueryItem, error) { return nil, nil },
	}
	rc := testContext(t, func(r *PluginRegistry) {
		if err := r.RegisterMutationHook(dropper); err != nil {
			t.Fatalf("RegisterMutationHook: %v", err)
		}
	})
	query, err := domain.NewQueryItem(entitymodel.Default(), u1, "status", domain.MustRecord(map[string]any{"removed": false}), domain.SystemMetadata{})
	if err != nil {
		t.Fatalf("NewQueryItem: %v", err)
	}
	_, err = ApplyReadMutationHooks(context.Background(), rc, []*domain.QueryItem{query})
	var pe domain.PluginExecutionError
	if !errors.As(err, &pe) || pe.Stage != StageReadMutation || pe.Category != string(pluginapi.CategoryMutationHook) {
		t.Fatalf("expected read mutation failure, got %v", err)
	}
}

func TestWriteMutationOnlySeesApplicableItems(t *testing.T) {
	var seen []string
	hook := &fakeHook{
		BaseSpec: pluginapi.BaseSpec{PluginConfig: cfg("hook", writeOps, "dataset/ownership")},
		write: func(in []*domain.ChangeMCP) ([]*domain.ChangeMCP, error) {
			for _, c := range in {
				seen = append(seen, c.AspectName())
			}
			return in, nil
		},
	}
	rc := testContext(t, func(r *PluginRegistry) {
		if err := r.RegisterMutationHook(hook); err != nil {
			t.Fatalf("RegisterMutationHook: %v", err)
		}
	})
	changes := []*domain.ChangeMCP{
		change(t, u1, "status", domain.ChangeUpsert, map[string]any{"removed": false}),
		change(t, u1, "ownership", domain.ChangeUpsert, map[string]any{"owners": []any{}}),
	}
	out, err := ApplyWriteMutationHooks(context.Background(), rc, changes)
	if err != nil {
		t.Fatalf("ApplyWriteMutationHooks: %v", err)
	}
	if len(seen) != 1 || seen[0] != "ownership" {
		t.Fatalf("hook saw %v", seen)
	}
	if out[0] != changes[0] || out[1] != changes[1] {
		t.Fatalf("order must be preserved")
	}
}

func TestMCPSideEffectsRejectQueryItems(t *testing.T) {
	effect := &fakeSideEffect{
		BaseSpec: pluginapi.BaseSpec{PluginConfig: cfg("reader", writeOps, "*/*")},
		apply: func(_ context.Context, changes []*domain.ChangeMCP, r pluginapi.Retriever) ([]domain.BatchItem, error) {
			q, err := domain.NewQueryItem(r.Schema(), changes[0].Urn(), changes[0].AspectName(), changes[0].Record(), domain.SystemMetadata{})
			return []domain.BatchItem{q}, err
		},
	}
	rc := testContext(t, func(r *PluginRegistry) {
		if err := r.RegisterMCPSideEffect(effect); err != nil {
			t.Fatalf("RegisterMCPSideEffect: %v", err)
		}
	})
	_, err := ApplyMCPSideEffects(context.Background(), rc, []*domain.ChangeMCP{change(t, u1, "status", domain.ChangeUpsert, map[string]any{"removed": false})})
	var pe domain.PluginExecutionError
	if !errors.As(err, &pe) || pe.Plugin != "reader" {
		t.Fatalf("expected derived query to be refused, got %v", err)
	}
}

func TestMCLSideEffectsFilterAndSkipNil(t *testing.T) {
	var seen int
	effect := &fakeLogSideEffect{
		BaseSpec: pluginapi.BaseSpec{PluginConfig: cfg("deletes", []string{"DELETE"}, "dataset/*")},
		apply: func(in []*domain.ChangeLogItem) []*domain.ChangeLogItem {
			seen += len(in)
			return []*domain.ChangeLogItem{nil, domain.DerivedChangeLogItem(u1, "status", domain.ChangeUpsert, domain.MustRecord(map[string]any{"removed": true}), in[0].AuditStamp)}
		},
	}
	rc := testContext(t, func(r *PluginRegistry) {
		if err := r.RegisterMCLSideEffect(effect); err != nil {
			t.Fatalf("RegisterMCLSideEffect: %v", err)
		}
	})
	upsert := domain.NewChangeLogItem(change(t, u1, "status", domain.ChangeUpsert, map[string]any{"removed": false}))
	del := domain.NewChangeLogItem(change(t, u2, "status", domain.ChangeDelete, nil))
	extra, err := ApplyMCLSideEffects(context.Background(), rc, []*domain.ChangeLogItem{upsert, del})
	if err != nil {
		t.Fatalf("ApplyMCLSideEffects: %v", err)
	}
	if seen != 1 || len(extra) != 1 || extra[0].Urn != u1 {
		t.Fatalf("unexpected side effect output seen=%d extra=%v", seen, extra)
	}
}

func TestStagesStopOnCancelledContext(t *testing.T) {
	rc := testContext(t, func(r *PluginRegistry) {
		if err := r.RegisterValidator(&fakeValidator{BaseSpec: pluginapi.BaseSpec{PluginConfig: cfg("v", writeOps, "*/*")}}); err != nil {
			t.Fatalf("RegisterValidator: %v", err)
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ValidateProposed(ctx, rc, items(change(t, u1, "status", domain.ChangeUpsert, map[string]any{"removed": false}))); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
