package memory

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"catalogcore/internal/blob/core"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()
	meta := map[string]string{"batch": "1"}
	info, err := s.Put(ctx, "changelog/a.json", strings.NewReader(`{"a":1}`), core.PutOptions{ContentType: "application/json", Metadata: meta})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	meta["batch"] = "mutated"
	if info.Size != 7 || info.Metadata["batch"] != "1" {
		t.Fatalf("unexpected info %+v", info)
	}

	got, rc, err := s.Get(ctx, "changelog/a.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer func() { _ = rc.Close() }()
	body, _ := io.ReadAll(rc)
	if string(body) != `{"a":1}` || got.ContentType != "application/json" {
		t.Fatalf("unexpected blob %q %+v", body, got)
	}
	if _, err := s.Put(ctx, "changelog/a.json", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestMissingKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, _, err := s.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Get: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Head: expected ErrNotFound, got %v", err)
	}
	if ok, err := s.Delete(ctx, "nope"); ok || err != nil {
		t.Fatalf("Delete: expected (false, nil), got (%v, %v)", ok, err)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, k := range []string{"b/2", "a/1", "b/1"} {
		if _, err := s.Put(ctx, k, strings.NewReader(k), core.PutOptions{}); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}
	keys := func(prefix string) []string {
		infos, err := s.List(ctx, prefix)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		var out []string
		for _, i := range infos {
			out = append(out, i.Key)
		}
		return out
	}
	if diff := cmp.Diff([]string{"b/1", "b/2"}, keys("b/")); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
	if ok, _ := s.Delete(ctx, "b/1"); !ok {
		t.Fatalf("expected delete to report existing key")
	}
	if diff := cmp.Diff([]string{"a/1", "b/2"}, keys("")); diff != "" {
		t.Fatalf("list mismatch (-want +got):\n%s", diff)
	}
}

func TestPutHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Put(ctx, "k", strings.NewReader("v"), core.PutOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
