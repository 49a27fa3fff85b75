package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"catalogcore/internal/entitymodel"
	"catalogcore/internal/entitymodel/sqlbundle"
	"catalogcore/internal/infra/persistence/postgres/testutil"
	"catalogcore/internal/infra/persistence/sqlstore"
	"catalogcore/pkg/domain"
)

const tagUrn domain.Urn = "urn:li:tag:pii"

type recordingExec struct {
	execs []string
}

func (r *recordingExec) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	r.execs = append(r.execs, query)
	return nil, nil
}

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		if driverName != defaultDriver || dsn != defaultDSN {
			return nil, fmt.Errorf("unexpected open %s %s", driverName, dsn)
		}
		return db, nil
	})
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func tagChange(t *testing.T, desc string, prev *domain.SystemAspect) *domain.ChangeMCP {
	t.Helper()
	c, err := domain.NewChangeItem(entitymodel.Default(), domain.ChangeFields{
		Urn:        tagUrn,
		AspectName: "tagProperties",
		Record:     domain.MustRecord(map[string]any{"description": desc}),
		AuditStamp: domain.NewAuditStamp("", time.UnixMilli(1700000000000)),
	})
	if err != nil {
		t.Fatalf("NewChangeItem: %v", err)
	}
	return c.WithPrevious(prev)
}

func TestNewStoreAppliesDDL(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS METADATA_ASPECT") {
			sawDDL = true
			break
		}
	}
	if !sawDDL {
		t.Fatalf("expected aspect table DDL to be applied, got execs: %v", conn.Execs)
	}
}

func TestApplyDDLUsesPostgresBundle(t *testing.T) {
	ctx := context.Background()
	rec := &recordingExec{}

	ddl := sqlbundle.Postgres()
	if err := sqlstore.ApplyDDL(ctx, rec, ddl); err != nil {
		t.Fatalf("ApplyDDL: %v", err)
	}
	expected := sqlbundle.SplitStatements(ddl)
	if len(rec.execs) != len(expected) {
		t.Fatalf("expected %d DDL statements, got %d", len(expected), len(rec.execs))
	}
	for i, stmt := range expected {
		if strings.TrimSpace(rec.execs[i]) != strings.TrimSpace(stmt) {
			t.Fatalf("statement %d mismatch:\nwant: %s\ngot:  %s", i, stmt, rec.execs[i])
		}
	}
}

func TestCommitUsesNumberedPlaceholders(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)

	res, err := store.Commit(ctx, []*domain.ChangeMCP{tagChange(t, "personal data", nil)})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res[0].Outcome != domain.OutcomeCommitted || res[0].Version != 1 {
		t.Fatalf("unexpected result %+v", res[0])
	}
	if conn.Commits != 1 {
		t.Fatalf("expected one committed transaction, got %d", conn.Commits)
	}
	for _, q := range append(append([]string(nil), conn.Queries...), conn.Execs...) {
		if strings.Contains(q, "?") {
			t.Fatalf("statement kept positional placeholder: %s", q)
		}
	}
	rows := conn.Tables[sqlbundle.Table]
	if len(rows) != 1 || rows[0]["version"] != int64(1) || rows[0]["created_on"] != int64(1700000000000) {
		t.Fatalf("unexpected stored rows %v", rows)
	}

	latest, err := store.LatestAspects(ctx, []domain.Urn{tagUrn}, []string{"tagProperties"})
	if err != nil {
		t.Fatalf("LatestAspects: %v", err)
	}
	got := latest.Get(tagUrn, "tagProperties")
	if got == nil || !got.Record.Equal(domain.MustRecord(map[string]any{"description": "personal data"})) {
		t.Fatalf("unexpected latest %+v", got)
	}
}

func TestCommitConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	if _, err := store.Commit(ctx, []*domain.ChangeMCP{tagChange(t, "v1", nil)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := store.Commit(ctx, []*domain.ChangeMCP{tagChange(t, "stale", nil)})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res[0].Outcome != domain.OutcomeConflict || res[0].Actual != 1 {
		t.Fatalf("expected conflict, got %+v", res[0])
	}
	if conn.Rollbacks != 1 || len(conn.Tables[sqlbundle.Table]) != 1 {
		t.Fatalf("expected rollback with one stored row, rollbacks=%d rows=%d", conn.Rollbacks, len(conn.Tables[sqlbundle.Table]))
	}
}

func TestUniqueViolationBecomesConflict(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	conn.InsertErr = &pgconn.PgError{Code: uniqueViolation, Message: "duplicate key"}

	second, err := domain.NewChangeItem(entitymodel.Default(), domain.ChangeFields{
		Urn:        tagUrn,
		AspectName: "tagKey",
		Record:     domain.MustRecord(map[string]any{"name": "pii"}),
	})
	if err != nil {
		t.Fatalf("NewChangeItem: %v", err)
	}
	res, err := store.Commit(ctx, []*domain.ChangeMCP{tagChange(t, "racing", nil), second.WithPrevious(nil)})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res[0].Outcome != domain.OutcomeConflict || res[0].Expected != 0 || res[0].Actual != 1 {
		t.Fatalf("expected conflict from unique violation, got %+v", res[0])
	}
	if res[1].Outcome != domain.OutcomeAborted {
		t.Fatalf("expected trailing item aborted, got %+v", res[1])
	}
}

func TestInsertFailurePropagates(t *testing.T) {
	store, conn := openStub(t)
	conn.InsertErr = errors.New("disk full")
	if _, err := store.Commit(context.Background(), []*domain.ChangeMCP{tagChange(t, "x", nil)}); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected insert error, got %v", err)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://example"); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestRecreatedAspectRejectsStaleWriter(t *testing.T) {
	ctx := context.Background()
	store, conn := openStub(t)
	if _, err := store.Commit(ctx, []*domain.ChangeMCP{tagChange(t, "v1", nil)}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	latest, _ := store.LatestAspects(ctx, []domain.Urn{tagUrn}, []string{"tagProperties"})
	stale := latest.Get(tagUrn, "tagProperties")

	del, err := domain.NewChangeItem(entitymodel.Default(), domain.ChangeFields{
		Urn:        tagUrn,
		AspectName: "tagProperties",
		ChangeType: domain.ChangeDelete,
	})
	if err != nil {
		t.Fatalf("NewChangeItem: %v", err)
	}
	res, err := store.Commit(ctx, []*domain.ChangeMCP{del.WithPrevious(stale)})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res[0].Outcome != domain.OutcomeCommitted || res[0].Version != 2 {
		t.Fatalf("unexpected delete result %+v", res[0])
	}
	rows := conn.Tables[sqlbundle.Table]
	if len(rows) != 1 || rows[0]["removed"] != int64(1) || rows[0]["version"] != int64(2) {
		t.Fatalf("expected a single removed row at version 2, got %v", rows)
	}

	res, err = store.Commit(ctx, []*domain.ChangeMCP{tagChange(t, "v3", nil)})
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if res[0].Outcome != domain.OutcomeCommitted || res[0].Version != 3 {
		t.Fatalf("expected recreate at version 3, got %+v", res[0])
	}

	res, err = store.Commit(ctx, []*domain.ChangeMCP{tagChange(t, "stale", stale)})
	if err != nil {
		t.Fatalf("stale commit: %v", err)
	}
	if res[0].Outcome != domain.OutcomeConflict || res[0].Expected != 1 || res[0].Actual != 3 {
		t.Fatalf("expected stale writer to conflict, got %+v", res[0])
	}
}
