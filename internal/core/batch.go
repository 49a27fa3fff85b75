package core

import (
	"fmt"
	"sort"
	"strings"

	"catalogcore/internal/patch"
	"catalogcore/pkg/domain"
)

// AspectsBatch is an ordered set of items submitted together.
type AspectsBatch struct {
	items []domain.BatchItem
	rc    RetrieverContext
}

// NewAspectsBatch builds a batch over items.
func NewAspectsBatch(rc RetrieverContext, items ...domain.BatchItem) *AspectsBatch {
	return &AspectsBatch{items: append([]domain.BatchItem(nil), items...), rc: rc}
}

// Items returns the batch items in submission order.
func (b *AspectsBatch) Items() []domain.BatchItem {
	return append([]domain.BatchItem(nil), b.items...)
}

// RetrieverContext returns the collaborators the batch was built with.
func (b *AspectsBatch) RetrieverContext() RetrieverContext { return b.rc }

// ContainsDuplicateAspects reports whether two items share a variant and an
// (urn, aspect) target.
func (b *AspectsBatch) ContainsDuplicateAspects() bool {
	return ContainsDuplicateAspects(b.items)
}

// ContainsDuplicateAspects reports whether two items share an identity.
func ContainsDuplicateAspects(items []domain.BatchItem) bool {
	seen := make(map[domain.ItemIdentity]struct{}, len(items))
	for _, item := range items {
		id := item.Identity()
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// UrnAspectsMap returns the aspect names each urn's items target, sorted.
func (b *AspectsBatch) UrnAspectsMap() map[domain.Urn][]string {
	return urnAspects(b.items)
}

func urnAspects(items []domain.BatchItem) map[domain.Urn][]string {
	sets := make(map[domain.Urn]map[string]struct{})
	for _, item := range items {
		set, ok := sets[item.Urn()]
		if !ok {
			set = make(map[string]struct{})
			sets[item.Urn()] = set
		}
		set[item.AspectName()] = struct{}{}
	}
	out := make(map[domain.Urn][]string, len(sets))
	for urn, set := range sets {
		out[urn] = sortedKeys(set)
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NewUrnAspects returns, per urn, the aspects targeted by items that are not
// present in latest.
func NewUrnAspects(latest domain.LatestAspects, items []domain.BatchItem) map[domain.Urn][]string {
	out := make(map[domain.Urn][]string)
	for urn, aspects := range urnAspects(items) {
		for _, name := range aspects {
			if !latest.Has(urn, name) {
				out[urn] = append(out[urn], name)
			}
		}
	}
	return out
}

// ToUpsertBatchItems resolves every write item into a ChangeMCP annotated
// with the value it replaces. Patches are applied against the latest record,
// or the aspect default when none exists, and become UPSERT changes. Items
// targeting the same aspect are chained: each sees the one before it as its
// previous value. Query items are skipped. Output order follows input order.
func (b *AspectsBatch) ToUpsertBatchItems(latest domain.LatestAspects) (map[domain.Urn][]string, []*domain.ChangeMCP, []domain.ItemError) {
	writes := make([]domain.BatchItem, 0, len(b.items))
	for _, item := range b.items {
		if _, ok := item.(*domain.QueryItem); !ok {
			writes = append(writes, item)
		}
	}
	newAspects := NewUrnAspects(latest, writes)

	current := domain.MergeLatest(latest, nil)
	changes := make([]*domain.ChangeMCP, 0, len(writes))
	var rejected []domain.ItemError
	for _, item := range writes {
		change, err := toChange(item, current)
		if err != nil {
			rejected = append(rejected, domain.ItemError{Item: item, Err: err})
			continue
		}
		change = change.WithPrevious(current.Get(change.Urn(), change.AspectName()))
		advance(current, change)
		changes = append(changes, change)
	}
	return newAspects, changes, rejected
}

func toChange(item domain.BatchItem, current domain.LatestAspects) (*domain.ChangeMCP, error) {
	switch it := item.(type) {
	case *domain.ChangeMCP:
		return it, nil
	case *domain.ProposedItem:
		doc, isPatch := it.Patch()
		if !isPatch {
			return it.ToChange(it.Record())
		}
		base := it.AspectSpec().DefaultRecord()
		if prev := current.Get(it.Urn(), it.AspectName()); prev != nil {
			base = prev.Record
		}
		rec, err := patch.Apply(base, doc)
		if err != nil {
			return nil, err
		}
		return it.ToChange(rec)
	default:
		return nil, fmt.Errorf("unsupported batch item %T", item)
	}
}

// advance records change as the latest value of its aspect.
func advance(current domain.LatestAspects, change *domain.ChangeMCP) {
	if change.ChangeType() == domain.ChangeDelete {
		delete(current[change.Urn()], change.AspectName())
		return
	}
	sa := change.SystemAspect(nil)
	current.Put(&sa)
}

// AbbreviatedString renders the batch without payloads, truncated to maxWidth
// characters when maxWidth is positive.
func (b *AspectsBatch) AbbreviatedString(maxWidth int) string {
	parts := make([]string, 0, len(b.items))
	for _, item := range b.items {
		parts = append(parts, fmt.Sprintf("%s %s %s/%s", item.Kind(), item.ChangeType(), item.Urn(), item.AspectName()))
	}
	s := "AspectsBatch{items=[" + strings.Join(parts, ", ") + "]}"
	if maxWidth > 3 && len(s) > maxWidth {
		return s[:maxWidth-3] + "..."
	}
	return s
}
