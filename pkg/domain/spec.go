package domain

// EntitySpec describes an entity type: its key aspect and the aspects it supports.
type EntitySpec struct {
	Name          string
	KeyAspectName string
	// KeyFields lists the key aspect fields in urn order.
	KeyFields []string
	Aspects   map[string]AspectSpec
}

// HasAspect reports whether the entity supports the named aspect.
func (e EntitySpec) HasAspect(name string) bool {
	_, ok := e.Aspects[name]
	return ok
}

// AspectSpec describes one aspect of an entity.
type AspectSpec struct {
	Name string
	// ChangeTypes lists the legal change types; empty means every change type is legal.
	ChangeTypes []ChangeType
	// Default is the schema-declared default instance patches apply against
	// when no value has been persisted yet.
	Default Record
}

// SupportsChangeType reports whether ct may be applied to the aspect.
func (a AspectSpec) SupportsChangeType(ct ChangeType) bool {
	if len(a.ChangeTypes) == 0 {
		return true
	}
	for _, allowed := range a.ChangeTypes {
		if allowed == ct {
			return true
		}
	}
	return false
}

// DefaultRecord returns the declared default or an empty JSON object.
func (a AspectSpec) DefaultRecord() Record {
	if a.Default.IsEmpty() {
		return NewRecord([]byte(`{}`))
	}
	return NewRecord(a.Default.Raw())
}
