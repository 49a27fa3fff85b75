package changelog

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"catalogcore/internal/blob"
	"catalogcore/internal/core"
	"catalogcore/internal/entitymodel"
	"catalogcore/internal/infra/persistence/memory"
	"catalogcore/pkg/domain"
)

const testUrn domain.Urn = "urn:li:dataset:(urn:li:dataPlatform:hive,db.orders,PROD)"

var fixedTime = time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)

func logItem(aspect string, version int64) *domain.ChangeLogItem {
	item := domain.DerivedChangeLogItem(testUrn, aspect, domain.ChangeUpsert, domain.MustRecord(map[string]any{"v": version}), domain.NewAuditStamp("urn:li:corpuser:tester", fixedTime))
	item.Version = version
	return item
}

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(blob.NewMemory(), "/audit/", WithClock(func() time.Time { return fixedTime }))
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	return a
}

func TestEmitWritesOneObjectPerBatch(t *testing.T) {
	ctx := context.Background()
	a := newTestArchive(t)
	if a.Prefix() != "audit" {
		t.Fatalf("expected trimmed prefix, got %q", a.Prefix())
	}
	if err := a.Emit(ctx, nil); err != nil {
		t.Fatalf("empty Emit: %v", err)
	}
	if err := a.Emit(ctx, []*domain.ChangeLogItem{logItem("status", 1), logItem("ownership", 1)}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := a.Emit(ctx, []*domain.ChangeLogItem{logItem("status", 2)}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 archived batches, got %v", keys)
	}
	pattern := regexp.MustCompile(`^audit/2026/03/04/20260304T050607\.000000008Z-[0-9a-f-]{36}\.jsonl$`)
	for _, k := range keys {
		if !pattern.MatchString(k) {
			t.Fatalf("unexpected key %q", k)
		}
	}
	total := 0
	for _, k := range keys {
		info, err := a.Store().Head(ctx, k)
		if err != nil {
			t.Fatalf("Head: %v", err)
		}
		items, err := a.Read(ctx, k)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if info.ContentType != ContentType || info.Metadata["entries"] != strconv.Itoa(len(items)) {
			t.Fatalf("unexpected object info %+v for %d items", info, len(items))
		}
		total += len(items)
	}
	if total != 3 {
		t.Fatalf("expected 3 archived items, got %d", total)
	}
}

func TestReplayReturnsEveryItem(t *testing.T) {
	ctx := context.Background()
	a := newTestArchive(t)
	batch := []*domain.ChangeLogItem{logItem("status", 1), logItem("ownership", 1)}
	if err := a.Emit(ctx, batch); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	got, err := a.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if diff := cmp.Diff(batch, got, cmp.Comparer(func(x, y domain.Record) bool { return x.Equal(y) })); diff != "" {
		t.Fatalf("replay mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, []*domain.ChangeLogItem{logItem("status", 3), nil}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	items, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(items) != 1 || items[0].AspectName != "status" || items[0].Version != 3 {
		t.Fatalf("unexpected items %+v", items)
	}
	if _, err := Decode(strings.NewReader(`{"entityUrn":`)); err == nil {
		t.Fatalf("expected truncated input to fail")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	for _, driver := range []string{"", DriverNone} {
		a, err := Open(ctx, Config{Driver: driver})
		if err != nil || a != nil {
			t.Fatalf("driver %q: expected disabled archive, got %v, %v", driver, a, err)
		}
	}
	a, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if a.Prefix() != DefaultPrefix || a.Store().Driver() != blob.DriverMemory {
		t.Fatalf("unexpected archive %s on %s", a.Prefix(), a.Store().Driver())
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected s3 without bucket to fail")
	}
	if _, err := Open(ctx, Config{Driver: "kafka"}); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
	if _, err := NewArchive(nil, ""); err == nil {
		t.Fatalf("expected nil store to fail")
	}
}

func TestServiceArchivesCommittedBatches(t *testing.T) {
	ctx := context.Background()
	a := newTestArchive(t)
	svc := core.NewService(entitymodel.Default(), memory.NewStore(), core.WithChangeLogSink(a))
	status, err := domain.NewChangeItem(entitymodel.Default(), domain.ChangeFields{
		Urn:        testUrn,
		AspectName: "status",
		Record:     domain.MustRecord(map[string]any{"removed": false}),
	})
	if err != nil {
		t.Fatalf("NewChangeItem: %v", err)
	}
	if _, _, err := svc.Submit(ctx, []domain.BatchItem{status}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	got, err := a.Replay(ctx)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(got) != 1 || got[0].Urn != testUrn || got[0].AspectName != "status" || got[0].Version != 1 {
		t.Fatalf("unexpected archived change log %+v", got)
	}
}
