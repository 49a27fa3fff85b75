package domain

import (
	"maps"
	"time"
)

// DefaultRunID marks system metadata generated for proposals that did not carry any.
const DefaultRunID = "no-run-id-provided"

// SystemMetadata carries provenance for a change: the ingestion run that
// produced it, when it was last observed, and free-form properties.
type SystemMetadata struct {
	RunID        string            `json:"runId,omitempty" yaml:"runId"`
	LastObserved int64             `json:"lastObserved,omitempty" yaml:"lastObserved"`
	Properties   map[string]string `json:"properties,omitempty" yaml:"properties"`
}

// IsZero reports whether no provenance was supplied.
func (m SystemMetadata) IsZero() bool {
	return m.RunID == "" && m.LastObserved == 0 && len(m.Properties) == 0
}

// Property returns a property value.
func (m SystemMetadata) Property(key string) (string, bool) {
	v, ok := m.Properties[key]
	return v, ok
}

// Clone returns a copy that shares no maps with m.
func (m SystemMetadata) Clone() SystemMetadata {
	cp := m
	if m.Properties != nil {
		cp.Properties = maps.Clone(m.Properties)
	}
	return cp
}

// SystemMetadataOrDefault returns m, or generated metadata stamped at now when m is empty.
func SystemMetadataOrDefault(m SystemMetadata, now time.Time) SystemMetadata {
	if !m.IsZero() {
		return m.Clone()
	}
	return SystemMetadata{RunID: DefaultRunID, LastObserved: now.UnixMilli()}
}

// AuditStamp records who made a change and when.
type AuditStamp struct {
	Actor Urn       `json:"actor"`
	Time  time.Time `json:"time"`
}

// SystemActor is used when a change is made by the platform itself.
const SystemActor Urn = "urn:li:corpuser:__catalogcore_system"

// NewAuditStamp stamps actor at t (UTC).
func NewAuditStamp(actor Urn, t time.Time) AuditStamp {
	if actor == "" {
		actor = SystemActor
	}
	return AuditStamp{Actor: actor, Time: t.UTC()}
}
