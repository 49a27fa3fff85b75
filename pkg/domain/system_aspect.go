package domain

import "time"

// SystemAspect is the persisted representation of one aspect version. Values
// returned by a store are owned by the store; callers receive copies.
type SystemAspect struct {
	Urn            Urn            `json:"urn"`
	AspectName     string         `json:"aspect"`
	Version        int64          `json:"version"`
	Record         Record         `json:"metadata"`
	SystemMetadata SystemMetadata `json:"systemMetadata"`
	CreatedOn      time.Time      `json:"createdOn"`
	CreatedBy      Urn            `json:"createdBy"`
}

// EntityType returns the owning entity type.
func (a SystemAspect) EntityType() string { return a.Urn.EntityType() }

// Clone returns a copy sharing no mutable state with a.
func (a SystemAspect) Clone() SystemAspect {
	cp := a
	cp.Record = NewRecord(a.Record.Raw())
	cp.SystemMetadata = a.SystemMetadata.Clone()
	return cp
}

// LatestAspects is a snapshot of current state: urn → aspect name → latest version.
type LatestAspects map[Urn]map[string]*SystemAspect

// Get returns the latest aspect or nil.
func (l LatestAspects) Get(urn Urn, aspectName string) *SystemAspect {
	if l == nil {
		return nil
	}
	return l[urn][aspectName]
}

// Put stores a value, allocating inner maps as needed.
func (l LatestAspects) Put(a *SystemAspect) {
	inner, ok := l[a.Urn]
	if !ok {
		inner = make(map[string]*SystemAspect)
		l[a.Urn] = inner
	}
	inner[a.AspectName] = a
}

// Has reports whether the snapshot tracks the aspect.
func (l LatestAspects) Has(urn Urn, aspectName string) bool {
	return l.Get(urn, aspectName) != nil
}

// MergeLatest combines two snapshots; entries of b win over entries of a.
func MergeLatest(a, b LatestAspects) LatestAspects {
	out := make(LatestAspects, len(a)+len(b))
	for _, src := range []LatestAspects{a, b} {
		for _, aspects := range src {
			for _, v := range aspects {
				if v != nil {
					out.Put(v)
				}
			}
		}
	}
	return out
}
