package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"catalogcore/internal/entitymodel"
	"catalogcore/internal/infra/persistence/memory"
	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

const (
	u1 domain.Urn = "urn:li:dataset:(urn:li:dataPlatform:hive,db.orders,PROD)"
	u2 domain.Urn = "urn:li:dataset:(urn:li:dataPlatform:hive,db.users,PROD)"
)

var fixedTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

var writeOps = []string{"UPSERT", "CREATE", "CREATE_ENTITY", "DELETE", "RESTATE"}

// cfg builds an enabled config; pairs are "entity/aspect".
func cfg(name string, ops []string, pairs ...string) pluginapi.PluginConfig {
	c := pluginapi.PluginConfig{Name: name, Enabled: true, SupportedOperations: ops}
	for _, p := range pairs {
		entity, aspect, _ := strings.Cut(p, "/")
		c.SupportedEntityAspectNames = append(c.SupportedEntityAspectNames, pluginapi.EntityAspectName{EntityName: entity, AspectName: aspect})
	}
	return c
}

type fakeValidator struct {
	pluginapi.BaseSpec
	proposed  func(items []domain.BatchItem) []domain.ValidationException
	preCommit func(changes []*domain.ChangeMCP) []domain.ValidationException

	mu    sync.Mutex
	calls [][]domain.BatchItem
}

func (v *fakeValidator) ValidateProposed(_ context.Context, items []domain.BatchItem, _ pluginapi.Retriever) ([]domain.ValidationException, error) {
	v.mu.Lock()
	v.calls = append(v.calls, items)
	v.mu.Unlock()
	if v.proposed == nil {
		return nil, nil
	}
	return v.proposed(items), nil
}

func (v *fakeValidator) ValidatePreCommit(_ context.Context, changes []*domain.ChangeMCP, _ pluginapi.Retriever) ([]domain.ValidationException, error) {
	if v.preCommit == nil {
		return nil, nil
	}
	return v.preCommit(changes), nil
}

func (v *fakeValidator) validated() [][]domain.BatchItem {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]domain.BatchItem(nil), v.calls...)
}

// rejectAspect rejects every item targeting aspect with message.
func rejectAspect(aspect, message string) func([]domain.BatchItem) []domain.ValidationException {
	return func(items []domain.BatchItem) []domain.ValidationException {
		var out []domain.ValidationException
		for _, item := range items {
			if item.AspectName() == aspect {
				out = append(out, domain.NewValidationException(item, message, nil))
			}
		}
		return out
	}
}

type fakeHook struct {
	pluginapi.BaseSpec
	read  func([]*domain.QueryItem) ([]*domain.QueryItem, error)
	write func([]*domain.ChangeMCP) ([]*domain.ChangeMCP, error)
}

func (h *fakeHook) ReadMutation(_ context.Context, items []*domain.QueryItem, _ pluginapi.Retriever) ([]*domain.QueryItem, error) {
	if h.read == nil {
		return items, nil
	}
	return h.read(items)
}

func (h *fakeHook) WriteMutation(_ context.Context, changes []*domain.ChangeMCP, _ pluginapi.Retriever) ([]*domain.ChangeMCP, error) {
	if h.write == nil {
		return changes, nil
	}
	return h.write(changes)
}

type fakeSideEffect struct {
	pluginapi.BaseSpec
	apply func(context.Context, []*domain.ChangeMCP, pluginapi.Retriever) ([]domain.BatchItem, error)
}

func (s *fakeSideEffect) Apply(ctx context.Context, changes []*domain.ChangeMCP, r pluginapi.Retriever) ([]domain.BatchItem, error) {
	return s.apply(ctx, changes, r)
}

type fakeLogSideEffect struct {
	pluginapi.BaseSpec
	apply func([]*domain.ChangeLogItem) []*domain.ChangeLogItem
}

func (s *fakeLogSideEffect) Apply(_ context.Context, items []*domain.ChangeLogItem, _ pluginapi.Retriever) ([]*domain.ChangeLogItem, error) {
	return s.apply(items), nil
}

type fakeBundle struct {
	name     string
	register func(pluginapi.Registry) error
}

func (b fakeBundle) Name() string                        { return b.name }
func (b fakeBundle) Version() string                     { return "0.1.0" }
func (b fakeBundle) Register(r pluginapi.Registry) error { return b.register(r) }

type recordingSink struct {
	mu    sync.Mutex
	items []*domain.ChangeLogItem
}

func (s *recordingSink) Emit(_ context.Context, items []*domain.ChangeLogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	return nil
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *recordingAudit) Record(_ context.Context, entry AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

type recordingMetrics struct {
	mu     sync.Mutex
	stages map[string]int
	items  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{stages: make(map[string]int), items: make(map[string]int)}
}

func (m *recordingMetrics) Observe(_ context.Context, stage string, _ bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[stage]++
}

func (m *recordingMetrics) CountItems(_ context.Context, outcome string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[outcome] += n
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	base := []ServiceOption{WithClock(ClockFunc(func() time.Time { return fixedTime }))}
	return NewService(entitymodel.Default(), store, append(base, opts...)...), store
}

func change(t *testing.T, urn domain.Urn, aspect string, ct domain.ChangeType, rec map[string]any) *domain.ChangeMCP {
	t.Helper()
	var record domain.Record
	if rec != nil {
		record = domain.MustRecord(rec)
	}
	c, err := domain.NewChangeItem(entitymodel.Default(), domain.ChangeFields{
		Urn:        urn,
		AspectName: aspect,
		ChangeType: ct,
		Record:     record,
		AuditStamp: domain.NewAuditStamp("urn:li:corpuser:tester", fixedTime),
	})
	if err != nil {
		t.Fatalf("NewChangeItem %s/%s: %v", urn, aspect, err)
	}
	return c
}

func patchProposal(t *testing.T, urn domain.Urn, aspect, doc string) *domain.ProposedItem {
	t.Helper()
	item, err := domain.NewProposedItem(entitymodel.Default(), domain.ChangeProposal{
		EntityUrn:  urn,
		AspectName: aspect,
		ChangeType: domain.ChangePatch,
		Aspect:     &domain.GenericAspect{Value: []byte(doc), ContentType: domain.ContentTypeJSONPatch},
	}, domain.NewAuditStamp("", fixedTime), fixedTime)
	if err != nil {
		t.Fatalf("NewProposedItem: %v", err)
	}
	return item
}

func items(in ...domain.BatchItem) []domain.BatchItem { return in }

func recordOf(t *testing.T, rec domain.Record) map[string]any {
	t.Helper()
	var out map[string]any
	if err := rec.Decode(&out); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	return out
}
