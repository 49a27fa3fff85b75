package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubDBStoresAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	_, err := conn.ExecContext(ctx, "INSERT INTO metadata_aspect (urn, aspect) VALUES ($1, $2)", []driver.NamedValue{
		{Value: "urn:li:tag:pii"},
		{Value: "tagKey"},
	})
	if err != nil {
		t.Fatalf("ExecContext insert: %v", err)
	}
	if len(conn.Tables["metadata_aspect"]) != 1 {
		t.Fatalf("expected row to be stored, got %v", conn.Tables["metadata_aspect"])
	}

	rows, err := conn.QueryContext(ctx, "SELECT aspect, urn FROM metadata_aspect m WHERE urn = $1", nil)
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if dest[0] != "tagKey" || dest[1] != "urn:li:tag:pii" {
		t.Fatalf("unexpected row values: %v", dest)
	}

	_, err = conn.ExecContext(ctx, "DELETE FROM metadata_aspect WHERE urn = $1 AND aspect = $2", []driver.NamedValue{{Value: "urn:li:tag:pii"}, {Value: "tagKey"}})
	if err != nil {
		t.Fatalf("ExecContext delete: %v", err)
	}
	if len(conn.Tables["metadata_aspect"]) != 0 {
		t.Fatalf("expected row deleted")
	}
}

func TestStubTxRollbackRestoresTables(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "INSERT INTO t (a) VALUES ($1)", []driver.NamedValue{{Value: "x"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(conn.Tables["t"]) != 0 || conn.Rollbacks != 1 {
		t.Fatalf("expected rollback to discard insert, tables=%v", conn.Tables)
	}
}
