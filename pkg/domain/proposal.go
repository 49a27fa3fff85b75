package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Content types accepted for aspect payloads.
const (
	ContentTypeJSON      = "application/json"
	ContentTypeJSONPatch = "application/json-patch+json"
)

// GenericAspect is a serialized aspect payload tagged with its content type.
type GenericAspect struct {
	Value       json.RawMessage `json:"value"`
	ContentType string          `json:"contentType"`
}

// ChangeProposal is the wire-level shape of a requested change.
type ChangeProposal struct {
	EntityType      string         `json:"entityType"`
	EntityUrn       Urn            `json:"entityUrn,omitempty"`
	EntityKeyAspect *GenericAspect `json:"entityKeyAspect,omitempty"`
	AspectName      string         `json:"aspectName"`
	ChangeType      ChangeType     `json:"changeType"`
	Aspect          *GenericAspect `json:"aspect,omitempty"`
	SystemMetadata  SystemMetadata `json:"systemMetadata,omitempty"`
}

// PatchOperation is one add/remove operation of a patch document.
type PatchOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Patch is a JSON-Patch document extended with array primary keys: for each
// listed array field, elements are addressed by the values of the named key
// fields instead of by position.
type Patch struct {
	Operations       []PatchOperation    `json:"patch"`
	ArrayPrimaryKeys map[string][]string `json:"arrayPrimaryKeys,omitempty"`
}

// Clone returns a deep copy of the document.
func (p Patch) Clone() Patch {
	cp := Patch{Operations: make([]PatchOperation, len(p.Operations))}
	for i, op := range p.Operations {
		cp.Operations[i] = PatchOperation{Op: op.Op, Path: op.Path, Value: cloneRawMessage(op.Value)}
	}
	if p.ArrayPrimaryKeys != nil {
		cp.ArrayPrimaryKeys = make(map[string][]string, len(p.ArrayPrimaryKeys))
		for field, keys := range p.ArrayPrimaryKeys {
			cp.ArrayPrimaryKeys[field] = append([]string(nil), keys...)
		}
	}
	return cp
}

// ParsePatch decodes a patch document. A bare JSON array is accepted as a
// patch without keyed arrays.
func ParsePatch(raw []byte) (Patch, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Patch{}, PatchApplicationError{Reason: "empty patch document"}
	}
	var doc Patch
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &doc.Operations); err != nil {
			return Patch{}, PatchApplicationError{Reason: fmt.Sprintf("decode patch: %v", err)}
		}
	} else if err := json.Unmarshal(trimmed, &doc); err != nil {
		return Patch{}, PatchApplicationError{Reason: fmt.Sprintf("decode patch: %v", err)}
	}
	if len(doc.Operations) == 0 {
		return Patch{}, PatchApplicationError{Reason: "patch has no operations"}
	}
	for field, keys := range doc.ArrayPrimaryKeys {
		if len(keys) == 0 {
			return Patch{}, PatchApplicationError{Reason: fmt.Sprintf("array %q declares no primary keys", field)}
		}
	}
	return doc, nil
}

// NewProposedItem resolves a wire proposal against the schema registry. The
// urn is derived from the key aspect when absent, the change type defaults
// to UPSERT, and system metadata is generated at now when missing.
func NewProposedItem(registry SchemaRegistry, p ChangeProposal, audit AuditStamp, now time.Time) (*ProposedItem, error) {
	if registry == nil {
		return nil, fmt.Errorf("schema registry required")
	}
	ct, err := ParseChangeType(string(p.ChangeType))
	if err != nil {
		return nil, err
	}
	if ct == ChangeUnspecified {
		ct = ChangeUpsert
	}

	entityType := p.EntityType
	if entityType == "" {
		entityType = p.EntityUrn.EntityType()
	}
	entitySpec, err := registry.EntitySpec(entityType)
	if err != nil {
		return nil, err
	}

	urn := p.EntityUrn
	if urn == "" {
		if p.EntityKeyAspect == nil {
			return nil, fmt.Errorf("proposal for %s carries neither urn nor key aspect", entityType)
		}
		urn, err = UrnFromKeyAspect(entityType, entitySpec.KeyFields, NewRecord(p.EntityKeyAspect.Value))
		if err != nil {
			return nil, err
		}
	}
	if urn.EntityType() != entityType {
		return nil, fmt.Errorf("urn %s does not match entity type %s", urn, entityType)
	}

	header, err := resolveHeader(registry, urn, p.AspectName)
	if err != nil {
		return nil, err
	}
	if !header.aspectSpec.SupportsChangeType(ct) {
		return nil, UnsupportedChangeTypeError{ChangeType: ct, EntityType: entityType, AspectName: p.AspectName}
	}

	item := &ProposedItem{
		itemHeader:     header,
		changeType:     ct,
		systemMetadata: SystemMetadataOrDefault(p.SystemMetadata, now),
		auditStamp:     NewAuditStamp(audit.Actor, audit.Time),
	}

	switch {
	case ct == ChangePatch:
		if p.Aspect == nil {
			return nil, PatchApplicationError{Reason: "patch proposal carries no patch document"}
		}
		if !isContentType(p.Aspect.ContentType, ContentTypeJSONPatch, ContentTypeJSON) {
			return nil, fmt.Errorf("unsupported content type %q for patch", p.Aspect.ContentType)
		}
		doc, err := ParsePatch(p.Aspect.Value)
		if err != nil {
			return nil, err
		}
		item.patch = &doc
	case ct == ChangeDelete && p.Aspect == nil:
	default:
		if p.Aspect == nil {
			return nil, fmt.Errorf("proposal for %s/%s carries no aspect", urn, p.AspectName)
		}
		if !isContentType(p.Aspect.ContentType, ContentTypeJSON) {
			return nil, fmt.Errorf("unsupported content type %q", p.Aspect.ContentType)
		}
		rec := NewRecord(p.Aspect.Value)
		if err := requireObject(rec, urn, p.AspectName); err != nil {
			return nil, err
		}
		item.record = rec
	}

	p.EntityType = entityType
	p.EntityUrn = urn
	p.ChangeType = ct
	p.SystemMetadata = item.systemMetadata.Clone()
	item.proposal = p
	return item, nil
}

func isContentType(got string, allowed ...string) bool {
	if got == "" {
		return true
	}
	mediaType, _, _ := strings.Cut(got, ";")
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(mediaType), a) {
			return true
		}
	}
	return false
}
