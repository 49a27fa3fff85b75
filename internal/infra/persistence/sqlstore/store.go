// Package sqlstore implements domain.RecordStore on database/sql. The sqlite
// and postgres packages wrap it with driver-specific setup.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"catalogcore/internal/entitymodel/sqlbundle"
	"catalogcore/pkg/domain"
)

var _ domain.RecordStore = (*Store)(nil)

var errVersionClaimed = errors.New("version claimed by a concurrent writer")

const columns = "urn, aspect, version, metadata, system_metadata, created_on, created_by, removed"

type aspectKey struct {
	urn    domain.Urn
	aspect string
}

// storedRow is one row of the aspect table. Removed rows mark deletions.
type storedRow struct {
	aspect  domain.SystemAspect
	removed bool
}

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	Execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store keeps every aspect version as one row of the aspect table.
type Store struct {
	db      *sql.DB
	dialect Dialect
	// serializes commits issued through this handle
	mu sync.Mutex
}

// New applies the dialect DDL to db and returns a store using it.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: nil database")
	}
	if dialect.DDL != nil {
		if err := ApplyDDL(ctx, db, dialect.DDL()); err != nil {
			return nil, err
		}
	}
	return &Store{db: db, dialect: dialect}, nil
}

// ApplyDDL executes every statement of a DDL script.
func ApplyDDL(ctx context.Context, exec Execer, ddl string) error {
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle for integration hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the dialect the store was opened with.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// LatestAspects returns the highest version of each requested aspect. An
// empty aspectNames selects every aspect of the urns.
func (s *Store) LatestAspects(ctx context.Context, urns []domain.Urn, aspectNames []string) (domain.LatestAspects, error) {
	out := make(domain.LatestAspects)
	if len(urns) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(urns)+len(aspectNames))
	for _, u := range urns {
		args = append(args, string(u))
	}
	query := "SELECT " + columns + " FROM " + sqlbundle.Table + " m WHERE urn IN (" + placeholders(len(urns)) + ")"
	if len(aspectNames) > 0 {
		query += " AND aspect IN (" + placeholders(len(aspectNames)) + ")"
		for _, a := range aspectNames {
			args = append(args, a)
		}
	}
	query += " AND version = (SELECT MAX(version) FROM " + sqlbundle.Table + " l WHERE l.urn = m.urn AND l.aspect = m.aspect)"

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("select latest aspects: %w", err)
	}
	stored, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	newest := make(map[aspectKey]storedRow, len(stored))
	for _, r := range stored {
		key := aspectKey{urn: r.aspect.Urn, aspect: r.aspect.AspectName}
		if cur, ok := newest[key]; ok && cur.aspect.Version >= r.aspect.Version {
			continue
		}
		newest[key] = r
	}
	for _, r := range newest {
		if r.removed {
			continue
		}
		a := r.aspect
		out.Put(&a)
	}
	return out, nil
}

// History returns every stored version of an aspect, oldest first. A
// deleted aspect has no history.
func (s *Store) History(ctx context.Context, urn domain.Urn, aspectName string) ([]domain.SystemAspect, error) {
	query := "SELECT " + columns + " FROM " + sqlbundle.Table + " WHERE urn = ? AND aspect = ? AND removed = 0 ORDER BY version"
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), string(urn), aspectName)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	stored, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	out := make([]domain.SystemAspect, 0, len(stored))
	for _, r := range stored {
		if !r.removed {
			out = append(out, r.aspect)
		}
	}
	return out, nil
}

// Commit applies changes in order inside one transaction. The transaction
// is rolled back when any change expected a version other than the stored one.
func (s *Store) Commit(ctx context.Context, changes []*domain.ChangeMCP) ([]domain.CommitResult, error) {
	for i, c := range changes {
		if c == nil {
			return nil, fmt.Errorf("nil change at index %d", i)
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	// version a later change of this commit must expect, per aspect
	chained := make(map[aspectKey]int64)
	results := make([]domain.CommitResult, len(changes))
	conflicted, poisoned := false, false
	for i, c := range changes {
		if poisoned {
			results[i] = domain.CommitResult{Urn: c.Urn(), AspectName: c.AspectName(), Outcome: domain.OutcomeAborted}
			continue
		}
		res, err := s.apply(ctx, tx, c, chained)
		if errors.Is(err, errVersionClaimed) {
			// the transaction cannot run further statements
			poisoned = true
		} else if err != nil {
			return nil, err
		}
		if res.Outcome == domain.OutcomeConflict {
			conflicted = true
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
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return results, nil
}

func (s *Store) apply(ctx context.Context, tx querier, c *domain.ChangeMCP, chained map[aspectKey]int64) (domain.CommitResult, error) {
	key := aspectKey{urn: c.Urn(), aspect: c.AspectName()}
	res := domain.CommitResult{Urn: c.Urn(), AspectName: c.AspectName()}
	prev, highWater, err := s.latest(ctx, tx, c.Urn(), c.AspectName())
	if err != nil {
		return res, err
	}
	var actual int64
	if prev != nil {
		res.Previous = prev
		actual = prev.Version
	}
	want := actual
	if v, ok := chained[key]; ok {
		want = v
	}
	if expected := c.ExpectedVersion(); expected != want {
		res.Outcome = domain.OutcomeConflict
		res.Expected = expected
		res.Actual = want
		return res, nil
	}

	if c.ChangeType() == domain.ChangeDelete {
		chained[key] = 0
		if prev == nil {
			res.Outcome = domain.OutcomeSkipped
			return res, nil
		}
		query := "DELETE FROM " + sqlbundle.Table + " WHERE urn = ? AND aspect = ?"
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(query), string(c.Urn()), c.AspectName()); err != nil {
			return res, fmt.Errorf("delete %s/%s: %w", c.Urn(), c.AspectName(), err)
		}
		tombstone := actual + 1
		row := c.SystemAspect(&tombstone)
		if err := s.insert(ctx, tx, row, true); err != nil {
			return s.claimed(res, actual, tombstone, err)
		}
		res.Version = tombstone
		res.Outcome = domain.OutcomeCommitted
		return res, nil
	}

	next := highWater + 1
	if err := s.insert(ctx, tx, c.SystemAspect(&next), false); err != nil {
		return s.claimed(res, actual, next, err)
	}
	chained[key] = c.NextAspectVersion()
	res.Version = next
	res.Outcome = domain.OutcomeCommitted
	return res, nil
}

func (s *Store) insert(ctx context.Context, tx querier, row domain.SystemAspect, removed bool) error {
	sm, err := json.Marshal(row.SystemMetadata)
	if err != nil {
		return fmt.Errorf("encode system metadata: %w", err)
	}
	metadata := string(row.Record.Raw())
	if metadata == "" {
		metadata = "{}"
	}
	var flag int64
	if removed {
		flag = 1
	}
	query := "INSERT INTO " + sqlbundle.Table + " (" + columns + ") VALUES (" + placeholders(8) + ")"
	_, err = tx.ExecContext(ctx, s.dialect.Rebind(query),
		string(row.Urn), row.AspectName, row.Version, metadata, string(sm), row.CreatedOn.UnixMilli(), string(row.CreatedBy), flag)
	if err != nil {
		return fmt.Errorf("insert %s/%s: %w", row.Urn, row.AspectName, err)
	}
	return nil
}

// claimed turns a primary-key collision into a conflict result; other
// insert failures are returned as is.
func (s *Store) claimed(res domain.CommitResult, actual, version int64, err error) (domain.CommitResult, error) {
	if !s.dialect.uniqueViolation(err) {
		return res, err
	}
	res.Outcome = domain.OutcomeConflict
	res.Expected = actual
	res.Actual = version
	return res, errVersionClaimed
}

// latest returns the current value of an aspect, nil when it does not exist
// or was deleted, and the highest version the aspect has used.
func (s *Store) latest(ctx context.Context, q querier, urn domain.Urn, aspectName string) (*domain.SystemAspect, int64, error) {
	query := "SELECT " + columns + " FROM " + sqlbundle.Table + " WHERE urn = ? AND aspect = ? ORDER BY version DESC LIMIT 1"
	rows, err := q.QueryContext(ctx, s.dialect.Rebind(query), string(urn), aspectName)
	if err != nil {
		return nil, 0, fmt.Errorf("select %s/%s: %w", urn, aspectName, err)
	}
	stored, err := scanRows(rows)
	if err != nil {
		return nil, 0, err
	}
	var newest *storedRow
	for i := range stored {
		if newest == nil || stored[i].aspect.Version > newest.aspect.Version {
			newest = &stored[i]
		}
	}
	if newest == nil {
		return nil, 0, nil
	}
	if newest.removed {
		return nil, newest.aspect.Version, nil
	}
	return &newest.aspect, newest.aspect.Version, nil
}

func scanRows(rows *sql.Rows) (out []storedRow, retErr error) {
	defer func() {
		if err := rows.Close(); err != nil && retErr == nil {
			retErr = err
		}
	}()
	for rows.Next() {
		var (
			a         domain.SystemAspect
			urn       string
			metadata  string
			sm        string
			createdOn int64
			createdBy string
			removed   int64
		)
		if err := rows.Scan(&urn, &a.AspectName, &a.Version, &metadata, &sm, &createdOn, &createdBy, &removed); err != nil {
			return nil, fmt.Errorf("scan aspect: %w", err)
		}
		a.Urn = domain.Urn(urn)
		a.CreatedBy = domain.Urn(createdBy)
		a.CreatedOn = time.UnixMilli(createdOn).UTC()
		a.Record = domain.NewRecord(json.RawMessage(metadata))
		if sm != "" {
			if err := json.Unmarshal([]byte(sm), &a.SystemMetadata); err != nil {
				return nil, fmt.Errorf("decode system metadata for %s/%s: %w", urn, a.AspectName, err)
			}
		}
		out = append(out, storedRow{aspect: a, removed: removed != 0})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aspects: %w", err)
	}
	return out, nil
}
