package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

// DefaultMaxSideEffectDepth bounds recursive side-effect expansion.
const DefaultMaxSideEffectDepth = 5

// ChangeLogSink receives the change log of every committed batch.
type ChangeLogSink interface {
	Emit(ctx context.Context, items []*domain.ChangeLogItem) error
}

// SubmitResult is the outcome of one batch.
type SubmitResult struct {
	// Committed holds the persisted changes after write mutation, in pipeline order.
	Committed []*domain.ChangeMCP
	// ChangeLog holds one entry per committed change followed by derived entries.
	ChangeLog []*domain.ChangeLogItem
	// NewAspects lists, per urn, aspects that did not exist before the batch.
	NewAspects map[domain.Urn][]string
	// Rejected holds items that could not be turned into changes.
	Rejected []domain.ItemError
	// Reads holds query items after read mutation.
	Reads []*domain.QueryItem
	// PreCommit holds failures reported after persistence.
	PreCommit *domain.ValidationExceptionCollection
	// SideEffectRejections holds failures of items derived by side effects.
	// They never mark a submitted item as failed.
	SideEffectRejections *domain.ValidationExceptionCollection
}

// BatchOutcome is one entry of SubmitBatches.
type BatchOutcome struct {
	Result     SubmitResult
	Exceptions *domain.ValidationExceptionCollection
	Err        error
}

// Service runs batches of proposals through the write pipeline.
type Service struct {
	registry *PluginRegistry
	schema   domain.SchemaRegistry
	store    domain.RecordStore
	sink     ChangeLogSink

	pluginsMu sync.Mutex
	plugins   map[string]PluginMetadata

	logger          Logger
	clock           Clock
	metrics         MetricsRecorder
	tracer          Tracer
	audit           AuditRecorder
	maxDepth        int
	maxConcurrent   int
	checkDuplicates bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the logger.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock used for audit stamps and generated metadata.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithMetricsRecorder sets the metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit recorder.
func WithAuditRecorder(a AuditRecorder) ServiceOption {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithChangeLogSink sets where change logs are emitted.
func WithChangeLogSink(sink ChangeLogSink) ServiceOption {
	return func(s *Service) { s.sink = sink }
}

// WithPluginRegistry replaces the service's plugin registry.
func WithPluginRegistry(r *PluginRegistry) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithMaxSideEffectDepth bounds side-effect recursion. Values below zero are ignored.
func WithMaxSideEffectDepth(depth int) ServiceOption {
	return func(s *Service) {
		if depth >= 0 {
			s.maxDepth = depth
		}
	}
}

// WithMaxConcurrentBatches bounds SubmitBatches parallelism. Zero or less means unbounded.
func WithMaxConcurrentBatches(n int) ServiceOption {
	return func(s *Service) { s.maxConcurrent = n }
}

// WithDuplicateCheck toggles the duplicate pre-check. It is on by default.
func WithDuplicateCheck(enabled bool) ServiceOption {
	return func(s *Service) { s.checkDuplicates = enabled }
}

// NewService constructs a service over schema and store.
func NewService(schema domain.SchemaRegistry, store domain.RecordStore, opts ...ServiceOption) *Service {
	s := &Service{
		registry:        NewPluginRegistry(),
		schema:          schema,
		store:           store,
		plugins:         make(map[string]PluginMetadata),
		logger:          noopLogger{},
		clock:           systemClock(),
		metrics:         noopMetrics{},
		tracer:          noopTracer{},
		audit:           noopAudit{},
		maxDepth:        DefaultMaxSideEffectDepth,
		checkDuplicates: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the plugin registry.
func (s *Service) Registry() *PluginRegistry { return s.registry }

// Store returns the record store.
func (s *Service) Store() domain.RecordStore { return s.store }

// Schema returns the schema registry.
func (s *Service) Schema() domain.SchemaRegistry { return s.schema }

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.clock.Now() }

// RetrieverContext returns the collaborators handed to pipeline stages.
func (s *Service) RetrieverContext() RetrieverContext {
	return RetrieverContext{PluginRegistry: s.registry, SchemaRegistry: s.schema, AspectRetriever: s.store}
}

// InstallPlugin registers a plugin bundle. It fails once the first batch has
// been submitted.
func (s *Service) InstallPlugin(plugin pluginapi.Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	s.pluginsMu.Lock()
	defer s.pluginsMu.Unlock()
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}
	before := s.registry.Descriptors()
	if err := plugin.Register(s.registry); err != nil {
		return PluginMetadata{}, err
	}
	meta := PluginMetadata{
		Name:    plugin.Name(),
		Version: plugin.Version(),
		Plugins: descriptorDiff(before, s.registry.Descriptors()),
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed", "plugin", meta.Name, "version", meta.Version, "registrations", len(meta.Plugins))
	return meta, nil
}

// descriptorDiff returns the entries of after that are not in before.
func descriptorDiff(before, after []PluginDescriptor) []PluginDescriptor {
	seen := make(map[PluginDescriptor]int, len(before))
	for _, d := range before {
		seen[d]++
	}
	var out []PluginDescriptor
	for _, d := range after {
		if seen[d] > 0 {
			seen[d]--
			continue
		}
		out = append(out, d)
	}
	return out
}

// RegisteredPlugins returns installed bundles sorted by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.pluginsMu.Lock()
	defer s.pluginsMu.Unlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// stage runs fn inside a span and records its duration.
func (s *Service) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, name)
	err := fn(ctx)
	span.End(err)
	s.metrics.Observe(ctx, name, err == nil, time.Since(start))
	if pe, ok := pluginFailure(err); ok {
		s.logger.Error("plugin failed", "plugin", pe.Plugin, "category", pe.Category, "stage", pe.Stage, "error", pe.Err)
	}
	return err
}

// Submit runs items through the write pipeline. Per-item failures are
// reported in the exception collection and SubmitResult.Rejected; the
// returned error is reserved for failures that abort the whole batch.
func (s *Service) Submit(ctx context.Context, items []domain.BatchItem) (SubmitResult, *domain.ValidationExceptionCollection, error) {
	start := s.clock.Now()
	s.registry.Freeze()
	exceptions := domain.NewValidationExceptionCollection()
	res := SubmitResult{
		NewAspects:           make(map[domain.Urn][]string),
		SideEffectRejections: domain.NewValidationExceptionCollection(),
	}

	err := s.submit(ctx, items, &res, exceptions)

	entry := AuditEntry{
		Operation: "submit",
		Status:    AuditStatusSuccess,
		Items:     len(items),
		Committed: len(res.Committed),
		Rejected:  exceptions.Len(),
		Duration:  s.clock.Now().Sub(start),
		Timestamp: start,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("batch failed", "items", len(items), "error", err)
	} else {
		s.logger.Info("batch submitted", "items", len(items), "committed", len(res.Committed), "rejected", exceptions.Len())
	}
	s.audit.Record(ctx, entry)
	return res, exceptions, err
}

func (s *Service) submit(ctx context.Context, items []domain.BatchItem, res *SubmitResult, exceptions *domain.ValidationExceptionCollection) error {
	if s.store == nil || s.schema == nil {
		return errors.New("service requires a schema registry and a record store")
	}
	if s.checkDuplicates && ContainsDuplicateAspects(items) {
		return domain.ErrDuplicateAspects
	}
	rc := s.RetrieverContext()

	accepted, err := s.expand(ctx, rc, items, 0, nil, res, exceptions)
	if err != nil {
		return err
	}
	for _, key := range exceptions.Keys() {
		s.logger.Warn("item rejected", "urn", key.Urn, "aspect", key.AspectName, "reasons", len(exceptions.Exceptions(key)))
	}
	for _, key := range res.SideEffectRejections.Keys() {
		s.logger.Warn("derived item rejected", "urn", key.Urn, "aspect", key.AspectName, "reasons", len(res.SideEffectRejections.Exceptions(key)))
	}
	s.metrics.CountItems(ctx, OutcomeRejected, exceptions.Len()+res.SideEffectRejections.Len())
	if len(accepted) == 0 {
		return nil
	}

	var committed []*domain.ChangeMCP
	if err := s.stage(ctx, StagePersist, func(ctx context.Context) error {
		var err error
		committed, err = s.persist(ctx, accepted)
		return err
	}); err != nil {
		return err
	}
	s.metrics.CountItems(ctx, OutcomeCommitted, len(committed))

	if err := s.stage(ctx, StagePreCommit, func(ctx context.Context) error {
		found, err := ValidatePreCommit(ctx, rc, committed)
		res.PreCommit = found
		return err
	}); err != nil {
		return err
	}
	if !res.PreCommit.IsEmpty() {
		s.logger.Warn("pre-commit validation failed after persistence", "failures", res.PreCommit.String())
	}

	if err := s.stage(ctx, StageWriteMutation, func(ctx context.Context) error {
		var err error
		committed, err = ApplyWriteMutationHooks(ctx, rc, committed)
		return err
	}); err != nil {
		return err
	}
	res.Committed = committed

	changeLog := make([]*domain.ChangeLogItem, 0, len(committed))
	for _, change := range committed {
		changeLog = append(changeLog, domain.NewChangeLogItem(change))
	}
	if err := s.stage(ctx, StageMCLSideEffect, func(ctx context.Context) error {
		extra, err := ApplyMCLSideEffects(ctx, rc, changeLog)
		changeLog = append(changeLog, extra...)
		return err
	}); err != nil {
		return err
	}
	res.ChangeLog = changeLog

	if s.sink == nil {
		return nil
	}
	return s.stage(ctx, StageEmit, func(ctx context.Context) error {
		return s.sink.Emit(ctx, changeLog)
	})
}

// expand normalizes and validates items, then feeds the items derived by
// side effects back through the same steps one level deeper. pending holds
// the changes accepted at shallower depths so derived changes chain onto them.
// Failures of this depth are collected apart and merged into exceptions
// afterwards, so a derived item never fails an accepted item with the same key.
func (s *Service) expand(ctx context.Context, rc RetrieverContext, items []domain.BatchItem, depth int, pending domain.LatestAspects, res *SubmitResult, exceptions *domain.ValidationExceptionCollection) ([]*domain.ChangeMCP, error) {
	if depth > s.maxDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", domain.ErrSideEffectRecursion, depth, s.maxDepth)
	}

	var queries []*domain.QueryItem
	writes := make([]domain.BatchItem, 0, len(items))
	for _, item := range items {
		switch it := item.(type) {
		case *domain.QueryItem:
			queries = append(queries, it)
		case *domain.ProposedItem, *domain.ChangeMCP:
			writes = append(writes, it)
		default:
			return nil, fmt.Errorf("unsupported batch item %T", item)
		}
	}
	if len(queries) > 0 {
		if err := s.stage(ctx, StageReadMutation, func(ctx context.Context) error {
			mutated, err := ApplyReadMutationHooks(ctx, rc, queries)
			res.Reads = append(res.Reads, mutated...)
			return err
		}); err != nil {
			return nil, err
		}
	}
	if len(writes) == 0 {
		return nil, nil
	}

	local := domain.NewValidationExceptionCollection()
	var changes []*domain.ChangeMCP
	if err := s.stage(ctx, StageNormalize, func(ctx context.Context) error {
		batch := NewAspectsBatch(rc, writes...)
		urns, aspects := lookupKeys(batch.UrnAspectsMap())
		stored, err := rc.AspectRetriever.LatestAspects(ctx, urns, aspects)
		if err != nil {
			return fmt.Errorf("fetch latest aspects: %w", err)
		}
		newAspects, normalized, rejected := batch.ToUpsertBatchItems(domain.MergeLatest(stored, pending))
		for urn, names := range newAspects {
			res.NewAspects[urn] = mergeSorted(res.NewAspects[urn], names)
		}
		for _, r := range rejected {
			local.Add(domain.NewValidationException(r.Item, r.Err.Error(), r.Err))
		}
		res.Rejected = append(res.Rejected, rejected...)
		changes = normalized
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.stage(ctx, StageValidate, func(ctx context.Context) error {
		found, err := ValidateProposed(ctx, rc, asBatchItems(changes))
		local.Merge(found)
		return err
	}); err != nil {
		return nil, err
	}
	accepted := domain.Successful(local, changes)
	exceptions.Merge(local)

	var derived []domain.BatchItem
	if err := s.stage(ctx, StageMCPSideEffect, func(ctx context.Context) error {
		var err error
		derived, err = ApplyMCPSideEffects(ctx, rc, accepted)
		return err
	}); err != nil {
		return nil, err
	}
	if len(derived) == 0 {
		return accepted, nil
	}
	s.metrics.CountItems(ctx, OutcomeDerived, len(derived))
	s.logger.Debug("side effects derived items", "depth", depth, "derived", len(derived))

	next := domain.MergeLatest(pending, nil)
	for _, change := range accepted {
		advance(next, change)
	}
	more, err := s.expand(ctx, rc, derived, depth+1, next, res, res.SideEffectRejections)
	if err != nil {
		return nil, err
	}
	return append(accepted, more...), nil
}

// persist commits changes and annotates them with the stored versions.
func (s *Service) persist(ctx context.Context, changes []*domain.ChangeMCP) ([]*domain.ChangeMCP, error) {
	results, err := s.store.Commit(ctx, changes)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if len(results) != len(changes) {
		return nil, fmt.Errorf("commit: store returned %d results for %d changes", len(results), len(changes))
	}
	var conflicts []domain.ConflictError
	for _, r := range results {
		if r.Outcome == domain.OutcomeConflict {
			conflicts = append(conflicts, r.Conflict())
		}
	}
	if len(conflicts) > 0 {
		s.metrics.CountItems(ctx, OutcomeConflict, len(conflicts))
		s.logger.Warn("batch rejected on version conflict", "conflicts", len(conflicts))
		return nil, &domain.BatchConflictError{Conflicts: conflicts}
	}
	committed := make([]*domain.ChangeMCP, 0, len(changes))
	for i, change := range changes {
		if results[i].Outcome == domain.OutcomeSkipped {
			s.logger.Debug("delete of missing aspect skipped", "urn", change.Urn(), "aspect", change.AspectName())
			continue
		}
		committed = append(committed, change.WithCommit(results[i].Version, results[i].Previous))
	}
	return committed, nil
}

// SubmitBatches runs independent batches concurrently. Each batch is
// processed by Submit on its own goroutine; outcomes are returned in input
// order. The error is non-nil only when ctx ends before every batch ran.
func (s *Service) SubmitBatches(ctx context.Context, batches [][]domain.BatchItem) ([]BatchOutcome, error) {
	outcomes := make([]BatchOutcome, len(batches))
	var g errgroup.Group
	if s.maxConcurrent > 0 {
		g.SetLimit(s.maxConcurrent)
	}
	for i, items := range batches {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = BatchOutcome{Err: err}
				return err
			}
			res, exceptions, err := s.Submit(ctx, items)
			outcomes[i] = BatchOutcome{Result: res, Exceptions: exceptions, Err: err}
			return nil
		})
	}
	err := g.Wait()
	return outcomes, err
}

func lookupKeys(m map[domain.Urn][]string) ([]domain.Urn, []string) {
	urns := make([]domain.Urn, 0, len(m))
	aspectSet := make(map[string]struct{})
	for urn, aspects := range m {
		urns = append(urns, urn)
		for _, a := range aspects {
			aspectSet[a] = struct{}{}
		}
	}
	sort.Slice(urns, func(i, j int) bool { return urns[i] < urns[j] })
	return urns, sortedKeys(aspectSet)
}

func mergeSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	return sortedKeys(set)
}
