package domain

import (
	"fmt"
	"strings"
)

// ItemKind tags the BatchItem variants.
type ItemKind string

// BatchItem variants.
const (
	KindQuery    ItemKind = "query"
	KindProposed ItemKind = "proposed"
	KindChange   ItemKind = "change"
)

// BatchItem is the sealed sum of *QueryItem, *ProposedItem and *ChangeMCP.
// Code that needs variant-specific data switches on the concrete type.
type BatchItem interface {
	Kind() ItemKind
	Urn() Urn
	AspectName() string
	EntitySpec() EntitySpec
	AspectSpec() AspectSpec
	ChangeType() ChangeType
	Identity() ItemIdentity
	batchItem()
}

// ItemIdentity identifies an item for duplicate detection within a batch.
type ItemIdentity struct {
	Kind       ItemKind
	Urn        Urn
	AspectName string
}

func (i ItemIdentity) String() string {
	return fmt.Sprintf("%s:%s/%s", i.Kind, i.Urn, i.AspectName)
}

// itemHeader holds the fields shared by every variant. It is immutable once
// the item has been constructed.
type itemHeader struct {
	urn        Urn
	aspectName string
	entitySpec EntitySpec
	aspectSpec AspectSpec
}

func (h itemHeader) Urn() Urn               { return h.urn }
func (h itemHeader) AspectName() string     { return h.aspectName }
func (h itemHeader) EntitySpec() EntitySpec { return h.entitySpec }
func (h itemHeader) AspectSpec() AspectSpec { return h.aspectSpec }

func resolveHeader(registry SchemaRegistry, urn Urn, aspectName string) (itemHeader, error) {
	if registry == nil {
		return itemHeader{}, fmt.Errorf("schema registry required")
	}
	parsed, err := ParseUrn(string(urn))
	if err != nil {
		return itemHeader{}, err
	}
	if strings.TrimSpace(aspectName) == "" {
		return itemHeader{}, fmt.Errorf("aspect name required for %s", parsed)
	}
	entitySpec, err := registry.EntitySpec(parsed.EntityType())
	if err != nil {
		return itemHeader{}, err
	}
	aspectSpec, err := registry.AspectSpec(parsed.EntityType(), aspectName)
	if err != nil {
		return itemHeader{}, err
	}
	return itemHeader{urn: parsed, aspectName: aspectName, entitySpec: entitySpec, aspectSpec: aspectSpec}, nil
}

func requireObject(rec Record, urn Urn, aspectName string) error {
	if rec.IsEmpty() {
		return fmt.Errorf("record required for %s/%s", urn, aspectName)
	}
	var obj map[string]any
	if err := rec.Decode(&obj); err != nil {
		return fmt.Errorf("record for %s/%s is not a JSON object: %w", urn, aspectName, err)
	}
	return nil
}

// QueryItem is a read-only view of a persisted aspect; read mutation hooks
// may replace its record before it is returned to callers.
type QueryItem struct {
	itemHeader
	record         Record
	systemMetadata SystemMetadata
}

// NewQueryItem resolves specs for a read item.
func NewQueryItem(registry SchemaRegistry, urn Urn, aspectName string, record Record, sm SystemMetadata) (*QueryItem, error) {
	header, err := resolveHeader(registry, urn, aspectName)
	if err != nil {
		return nil, err
	}
	return &QueryItem{itemHeader: header, record: NewRecord(record.Raw()), systemMetadata: sm.Clone()}, nil
}

func (*QueryItem) batchItem()                       {}
func (*QueryItem) Kind() ItemKind                   { return KindQuery }
func (*QueryItem) ChangeType() ChangeType           { return ChangeUnspecified }
func (q *QueryItem) Record() Record                 { return q.record }
func (q *QueryItem) SystemMetadata() SystemMetadata { return q.systemMetadata.Clone() }

// Identity implements BatchItem.
func (q *QueryItem) Identity() ItemIdentity {
	return ItemIdentity{Kind: KindQuery, Urn: q.urn, AspectName: q.aspectName}
}

// WithRecord returns a copy of the item carrying rec.
func (q *QueryItem) WithRecord(rec Record) *QueryItem {
	cp := *q
	cp.record = NewRecord(rec.Raw())
	return &cp
}

// ProposedItem is a wire-level change proposal whose payload is either a full
// record or a patch to be applied against the current value.
type ProposedItem struct {
	itemHeader
	changeType     ChangeType
	record         Record
	patch          *Patch
	systemMetadata SystemMetadata
	auditStamp     AuditStamp
	proposal       ChangeProposal
}

func (*ProposedItem) batchItem()                       {}
func (*ProposedItem) Kind() ItemKind                   { return KindProposed }
func (p *ProposedItem) ChangeType() ChangeType         { return p.changeType }
func (p *ProposedItem) Record() Record                 { return p.record }
func (p *ProposedItem) AuditStamp() AuditStamp         { return p.auditStamp }
func (p *ProposedItem) Proposal() ChangeProposal       { return p.proposal }
func (p *ProposedItem) SystemMetadata() SystemMetadata { return p.systemMetadata.Clone() }

// Patch returns the patch document for PATCH proposals.
func (p *ProposedItem) Patch() (Patch, bool) {
	if p.patch == nil {
		return Patch{}, false
	}
	return p.patch.Clone(), true
}

// Identity implements BatchItem.
func (p *ProposedItem) Identity() ItemIdentity {
	return ItemIdentity{Kind: KindProposed, Urn: p.urn, AspectName: p.aspectName}
}

// ToChange converts the proposal into a concrete change carrying rec. PATCH
// proposals become UPSERT changes once the patch has been applied.
func (p *ProposedItem) ToChange(rec Record) (*ChangeMCP, error) {
	ct := p.changeType
	if ct == ChangePatch {
		ct = ChangeUpsert
	}
	if ct != ChangeDelete {
		if err := requireObject(rec, p.urn, p.aspectName); err != nil {
			return nil, err
		}
	}
	proposal := p.proposal
	return &ChangeMCP{
		itemHeader:     p.itemHeader,
		changeType:     ct,
		record:         NewRecord(rec.Raw()),
		systemMetadata: p.systemMetadata.Clone(),
		auditStamp:     p.auditStamp,
		proposal:       &proposal,
	}, nil
}

// ChangeMCP is a concrete, fully resolved change to one aspect. It is
// immutable; the With* helpers return annotated copies.
type ChangeMCP struct {
	itemHeader
	changeType     ChangeType
	record         Record
	systemMetadata SystemMetadata
	auditStamp     AuditStamp
	proposal       *ChangeProposal
	previous       *SystemAspect
	nextVersion    int64
}

// ChangeFields are the raw inputs of NewChangeItem.
type ChangeFields struct {
	Urn            Urn
	AspectName     string
	ChangeType     ChangeType
	Record         Record
	SystemMetadata SystemMetadata
	AuditStamp     AuditStamp
}

// NewChangeItem validates f against the schema registry and returns a
// resolved change. The change type defaults to UPSERT; PATCH must go through
// a ProposedItem since a ChangeMCP always carries the full record.
func NewChangeItem(registry SchemaRegistry, f ChangeFields) (*ChangeMCP, error) {
	ct := f.ChangeType
	if ct == ChangeUnspecified {
		ct = ChangeUpsert
	}
	if !ct.Valid() || ct == ChangePatch {
		return nil, fmt.Errorf("change type %s not allowed for a resolved change", ct)
	}
	header, err := resolveHeader(registry, f.Urn, f.AspectName)
	if err != nil {
		return nil, err
	}
	if !header.aspectSpec.SupportsChangeType(ct) {
		return nil, UnsupportedChangeTypeError{ChangeType: ct, EntityType: header.entitySpec.Name, AspectName: header.aspectName}
	}
	if ct != ChangeDelete {
		if err := requireObject(f.Record, header.urn, header.aspectName); err != nil {
			return nil, err
		}
	}
	audit := NewAuditStamp(f.AuditStamp.Actor, f.AuditStamp.Time)
	return &ChangeMCP{
		itemHeader:     header,
		changeType:     ct,
		record:         NewRecord(f.Record.Raw()),
		systemMetadata: SystemMetadataOrDefault(f.SystemMetadata, audit.Time),
		auditStamp:     audit,
	}, nil
}

func (*ChangeMCP) batchItem()                       {}
func (*ChangeMCP) Kind() ItemKind                   { return KindChange }
func (c *ChangeMCP) ChangeType() ChangeType         { return c.changeType }
func (c *ChangeMCP) Record() Record                 { return c.record }
func (c *ChangeMCP) AuditStamp() AuditStamp         { return c.auditStamp }
func (c *ChangeMCP) SystemMetadata() SystemMetadata { return c.systemMetadata.Clone() }
func (c *ChangeMCP) NextAspectVersion() int64       { return c.nextVersion }

// PreviousSystemAspect returns the persisted value the change was computed
// against, or nil when the aspect did not exist.
func (c *ChangeMCP) PreviousSystemAspect() *SystemAspect {
	if c.previous == nil {
		return nil
	}
	cp := c.previous.Clone()
	return &cp
}

// Identity implements BatchItem.
func (c *ChangeMCP) Identity() ItemIdentity {
	return ItemIdentity{Kind: KindChange, Urn: c.urn, AspectName: c.aspectName}
}

// Proposal returns the proposal the change was built from, or synthesizes one.
func (c *ChangeMCP) Proposal() ChangeProposal {
	if c.proposal != nil {
		return *c.proposal
	}
	return ChangeProposal{
		EntityType:     c.entitySpec.Name,
		EntityUrn:      c.urn,
		AspectName:     c.aspectName,
		ChangeType:     c.changeType,
		Aspect:         &GenericAspect{Value: c.record.Raw(), ContentType: ContentTypeJSON},
		SystemMetadata: c.systemMetadata.Clone(),
	}
}

// WithPrevious records the value the change is expected to replace and
// derives the next version from it.
func (c *ChangeMCP) WithPrevious(prev *SystemAspect) *ChangeMCP {
	cp := *c
	cp.previous = nil
	cp.nextVersion = 1
	if prev != nil {
		p := prev.Clone()
		cp.previous = &p
		cp.nextVersion = p.Version + 1
	}
	return &cp
}

// WithCommit records the outcome reported by the store.
func (c *ChangeMCP) WithCommit(version int64, prev *SystemAspect) *ChangeMCP {
	cp := c.WithPrevious(prev)
	cp.nextVersion = version
	return cp
}

// WithRecord returns a copy carrying rec; write mutation hooks use it.
func (c *ChangeMCP) WithRecord(rec Record) *ChangeMCP {
	cp := *c
	cp.record = NewRecord(rec.Raw())
	return &cp
}

// ExpectedVersion is the compare-and-set token: the version of the previous
// value, or 0 when the aspect is expected not to exist.
func (c *ChangeMCP) ExpectedVersion() int64 {
	if c.previous == nil {
		return 0
	}
	return c.previous.Version
}

// SystemAspect builds the persisted form of the change at version, or at
// NextAspectVersion when version is nil.
func (c *ChangeMCP) SystemAspect(version *int64) SystemAspect {
	v := c.nextVersion
	if version != nil {
		v = *version
	}
	return SystemAspect{
		Urn:            c.urn,
		AspectName:     c.aspectName,
		Version:        v,
		Record:         NewRecord(c.record.Raw()),
		SystemMetadata: c.systemMetadata.Clone(),
		CreatedOn:      c.auditStamp.Time,
		CreatedBy:      c.auditStamp.Actor,
	}
}

func (c *ChangeMCP) String() string {
	return fmt.Sprintf("ChangeMCP{changeType=%s, urn=%s, aspectName=%s, record=%s}", c.changeType, c.urn, c.aspectName, c.record)
}

// AbbreviatedString renders the change without its payload.
func (c *ChangeMCP) AbbreviatedString() string {
	return fmt.Sprintf("ChangeMCP{changeType=%s, urn=%s, aspectName=%s, nextVersion=%d}", c.changeType, c.urn, c.aspectName, c.nextVersion)
}
