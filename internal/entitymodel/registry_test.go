package entitymodel

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"catalogcore/pkg/domain"
)

func TestDefaultRegistry(t *testing.T) {
	reg := Default()
	want := []string{"corpuser", "dataPlatform", "dataset", "tag"}
	if diff := cmp.Diff(want, reg.EntityNames()); diff != "" {
		t.Fatalf("entity names mismatch (-want +got):\n%s", diff)
	}
	key, err := reg.KeyAspectName("dataset")
	if err != nil || key != "datasetKey" {
		t.Fatalf("expected datasetKey, got %q err=%v", key, err)
	}
	tags, err := reg.AspectSpec("dataset", "globalTags")
	if err != nil {
		t.Fatalf("globalTags: %v", err)
	}
	if !tags.DefaultRecord().Equal(domain.MustRecord(map[string]any{"tags": []any{}})) {
		t.Fatalf("unexpected globalTags default %s", tags.DefaultRecord())
	}
	status, _ := reg.AspectSpec("dataset", "status")
	if status.SupportsChangeType(domain.ChangePatch) || !status.SupportsChangeType(domain.ChangeDelete) {
		t.Fatalf("unexpected status change types %v", status.ChangeTypes)
	}
}

func TestLookupErrors(t *testing.T) {
	reg := Default()
	_, err := reg.EntitySpec("chart")
	var resErr domain.SchemaResolutionError
	if !errors.As(err, &resErr) || resErr.EntityType != "chart" {
		t.Fatalf("expected schema resolution error, got %v", err)
	}
	_, err = reg.AspectSpec("dataset", "nope")
	if !errors.As(err, &resErr) || resErr.AspectName != "nope" {
		t.Fatalf("expected aspect resolution error, got %v", err)
	}
	if _, err := reg.KeyAspectName("chart"); err == nil {
		t.Fatalf("expected key aspect lookup to fail")
	}
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"unknown field":  "entities:\n  - name: a\n    bogus: 1\n",
		"missing key":    "entities:\n  - name: a\n    keyFields: [id]\n    aspects: [aKey]\n",
		"undeclared key": "entities:\n  - name: a\n    keyAspect: aKey\n    keyFields: [id]\n    aspects: [other]\n",
		"no key fields":  "entities:\n  - name: a\n    keyAspect: aKey\n    aspects: [aKey]\n",
		"bad change":     "entities:\n  - name: a\n    keyAspect: aKey\n    keyFields: [id]\n    aspects:\n      - aKey\n      - name: b\n        changeTypes: [MERGE]\n",
		"dup aspect":     "entities:\n  - name: a\n    keyAspect: aKey\n    keyFields: [id]\n    aspects: [aKey, aKey]\n",
		"dup entity":     "entities:\n  - {name: a, keyAspect: aKey, keyFields: [id], aspects: [aKey]}\n  - {name: a, keyAspect: aKey, keyFields: [id], aspects: [aKey]}\n",
		"scalar default": "entities:\n  - name: a\n    keyAspect: aKey\n    keyFields: [id]\n    aspects:\n      - aKey\n      - name: b\n        default: 3\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(doc)); err == nil {
				t.Fatalf("expected load error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yml")
	if err := os.WriteFile(path, DefaultSource(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if reg.Version() != Default().Version() {
		t.Fatalf("expected identical fingerprints, got %s and %s", reg.Version(), Default().Version())
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestVersionTracksContents(t *testing.T) {
	base := "entities:\n  - name: a\n    keyAspect: aKey\n    keyFields: [id]\n    aspects: [aKey]\n"
	extended := base + "  - name: b\n    keyAspect: bKey\n    keyFields: [id]\n    aspects: [bKey]\n"
	a, err := Load(strings.NewReader(base))
	if err != nil {
		t.Fatalf("load base: %v", err)
	}
	b, err := Load(strings.NewReader(extended))
	if err != nil {
		t.Fatalf("load extended: %v", err)
	}
	if a.Version() == "" || a.Version() == b.Version() {
		t.Fatalf("expected distinct non-empty versions, got %q and %q", a.Version(), b.Version())
	}
}

func TestDefaultSourceReturnsCopy(t *testing.T) {
	src := DefaultSource()
	if len(src) == 0 {
		t.Fatal("expected embedded registry")
	}
	src[0] ^= 0xFF
	if DefaultSource()[0] == src[0] {
		t.Fatalf("DefaultSource did not return a copy")
	}
}
