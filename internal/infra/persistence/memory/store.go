// Package memory provides an in-memory record store used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"catalogcore/pkg/domain"
)

var _ domain.RecordStore = (*Store)(nil)

type aspectKey struct {
	urn    domain.Urn
	aspect string
}

// aspectLog is the stored state of one aspect. A deleted aspect keeps no
// versions but remembers the version its removal consumed.
type aspectLog struct {
	versions  []domain.SystemAspect
	removedAt int64
}

func (l aspectLog) latest() *domain.SystemAspect {
	if n := len(l.versions); n > 0 {
		prev := l.versions[n-1].Clone()
		return &prev
	}
	return nil
}

func (l aspectLog) highWater() int64 {
	if n := len(l.versions); n > 0 {
		return l.versions[n-1].Version
	}
	return l.removedAt
}

// Store keeps the full version history of every aspect in memory.
type Store struct {
	mu      sync.RWMutex
	aspects map[aspectKey]aspectLog
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{aspects: make(map[aspectKey]aspectLog)}
}

// Close is a no-op; it lets the store stand in for the SQL backends.
func (s *Store) Close() error { return nil }

// LatestAspects returns the latest version of the requested aspects. An
// empty aspectNames selects every aspect of the urns.
func (s *Store) LatestAspects(ctx context.Context, urns []domain.Urn, aspectNames []string) (domain.LatestAspects, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(domain.LatestAspects)
	if len(urns) == 0 {
		return out, nil
	}
	wantUrn := make(map[domain.Urn]struct{}, len(urns))
	for _, u := range urns {
		wantUrn[u] = struct{}{}
	}
	wantAspect := make(map[string]struct{}, len(aspectNames))
	for _, a := range aspectNames {
		wantAspect[a] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, log := range s.aspects {
		if _, ok := wantUrn[key.urn]; !ok {
			continue
		}
		if len(wantAspect) > 0 {
			if _, ok := wantAspect[key.aspect]; !ok {
				continue
			}
		}
		if latest := log.latest(); latest != nil {
			out.Put(latest)
		}
	}
	return out, nil
}

// Commit applies changes in order against a working copy and publishes it
// only when every change matched the version it expected.
func (s *Store) Commit(ctx context.Context, changes []*domain.ChangeMCP) ([]domain.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, c := range changes {
		if c == nil {
			return nil, fmt.Errorf("nil change at index %d", i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := make(map[aspectKey]aspectLog)
	current := func(key aspectKey) aspectLog {
		if l, ok := working[key]; ok {
			return l
		}
		return s.aspects[key]
	}
	// version a later change of this commit must expect, per aspect
	chained := make(map[aspectKey]int64)

	results := make([]domain.CommitResult, len(changes))
	conflicted := false
	for i, c := range changes {
		key := aspectKey{urn: c.Urn(), aspect: c.AspectName()}
		log := current(key)
		res := domain.CommitResult{Urn: c.Urn(), AspectName: c.AspectName(), Previous: log.latest()}
		var actual int64
		if res.Previous != nil {
			actual = res.Previous.Version
		}
		want := actual
		if v, ok := chained[key]; ok {
			want = v
		}
		if expected := c.ExpectedVersion(); expected != want {
			res.Outcome = domain.OutcomeConflict
			res.Expected = expected
			res.Actual = want
			results[i] = res
			conflicted = true
			continue
		}
		switch {
		case c.ChangeType() == domain.ChangeDelete && res.Previous == nil:
			res.Outcome = domain.OutcomeSkipped
			chained[key] = 0
		case c.ChangeType() == domain.ChangeDelete:
			working[key] = aspectLog{removedAt: actual + 1}
			res.Version = actual + 1
			res.Outcome = domain.OutcomeCommitted
			chained[key] = 0
		default:
			next := log.highWater() + 1
			working[key] = aspectLog{versions: append(slices.Clone(log.versions), c.SystemAspect(&next))}
			res.Version = next
			res.Outcome = domain.OutcomeCommitted
			chained[key] = c.NextAspectVersion()
		}
		results[i] = res
	}

	if conflicted {
		for i := range results {
			if results[i].Outcome != domain.OutcomeConflict {
				results[i].Outcome = domain.OutcomeAborted
				results[i].Version = 0
			}
		}
		return results, nil
	}
	for key, log := range working {
		s.aspects[key] = log
	}
	return results, nil
}

// History returns every stored version of an aspect, oldest first. A
// deleted aspect has no history.
func (s *Store) History(ctx context.Context, urn domain.Urn, aspectName string) ([]domain.SystemAspect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.aspects[aspectKey{urn: urn, aspect: aspectName}].versions
	out := make([]domain.SystemAspect, len(versions))
	for i, a := range versions {
		out[i] = a.Clone()
	}
	return out, nil
}
