package domain

import (
	"errors"
	"strings"
	"testing"
)

func mustChange(t *testing.T, urn Urn, aspect string) *ChangeMCP {
	t.Helper()
	c, err := NewChangeItem(testRegistry(), ChangeFields{Urn: urn, AspectName: aspect, Record: MustRecord(map[string]any{"a": 1})})
	if err != nil {
		t.Fatalf("NewChangeItem: %v", err)
	}
	return c
}

func TestValidationExceptionCollectionPartition(t *testing.T) {
	a := mustChange(t, testDatasetUrn, "datasetProperties")
	b := mustChange(t, "urn:li:corpuser:jdoe", "corpUserInfo")
	c := mustChange(t, testDatasetUrn, "globalTags")

	coll := NewValidationExceptionCollection()
	coll.AddException(b, "missing display name", nil)
	coll.AddException(b, "missing display name", nil)
	coll.AddException(b, "bad email", errors.New("no @"))

	if coll.Len() != 1 || len(coll.Exceptions(KeyOf(b))) != 2 {
		t.Fatalf("expected one key with two deduplicated exceptions, got %s", coll)
	}
	items := []*ChangeMCP{a, b, c}
	ok := Successful(coll, items)
	bad := Failed(coll, items)
	if len(ok) != 2 || ok[0] != a || ok[1] != c {
		t.Fatalf("unexpected successful items %v", ok)
	}
	if len(bad) != 1 || bad[0] != b {
		t.Fatalf("unexpected failed items %v", bad)
	}
	if len(ok)+len(bad) != len(items) {
		t.Fatalf("partition must cover every item")
	}
}

func TestValidationExceptionCollectionStringIsSorted(t *testing.T) {
	coll := NewValidationExceptionCollection()
	coll.AddException(mustChange(t, "urn:li:corpuser:zed", "corpUserInfo"), "z", nil)
	coll.AddException(mustChange(t, "urn:li:corpuser:amy", "corpUserInfo"), "a", nil)

	other := NewValidationExceptionCollection()
	other.AddException(mustChange(t, "urn:li:corpuser:amy", "corpUserInfo"), "a", nil)
	other.AddException(mustChange(t, "urn:li:corpuser:zed", "corpUserInfo"), "z", nil)

	if coll.String() != other.String() {
		t.Fatalf("string form must not depend on insertion order:\n%s\n%s", coll, other)
	}
	if strings.Index(coll.String(), "amy") > strings.Index(coll.String(), "zed") {
		t.Fatalf("keys not sorted: %s", coll)
	}

	merged := NewValidationExceptionCollection()
	merged.Merge(coll)
	merged.Merge(other)
	if merged.Len() != 2 || len(merged.All()) != 2 {
		t.Fatalf("merge should deduplicate, got %s", merged)
	}
}

func TestNilValidationExceptionCollectionReads(t *testing.T) {
	var coll *ValidationExceptionCollection
	if !coll.IsEmpty() || coll.Has(mustChange(t, testDatasetUrn, "status")) {
		t.Fatalf("nil collection should read as empty")
	}
}
