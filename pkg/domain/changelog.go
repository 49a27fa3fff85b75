package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeLogItem describes a committed change: the new state, the state it
// replaced, and who made it.
type ChangeLogItem struct {
	ID                     uuid.UUID       `json:"id"`
	Urn                    Urn             `json:"entityUrn"`
	EntityType             string          `json:"entityType"`
	AspectName             string          `json:"aspectName"`
	ChangeType             ChangeType      `json:"changeType"`
	Record                 Record          `json:"aspect"`
	PreviousRecord         Record          `json:"previousAspectValue"`
	SystemMetadata         SystemMetadata  `json:"systemMetadata"`
	PreviousSystemMetadata *SystemMetadata `json:"previousSystemMetadata,omitempty"`
	AuditStamp             AuditStamp      `json:"created"`
	Version                int64           `json:"version"`
}

// NewChangeLogItem builds the change-log record of a committed change.
func NewChangeLogItem(change *ChangeMCP) *ChangeLogItem {
	item := &ChangeLogItem{
		ID:             uuid.New(),
		Urn:            change.Urn(),
		EntityType:     change.EntitySpec().Name,
		AspectName:     change.AspectName(),
		ChangeType:     change.ChangeType(),
		Record:         NewRecord(change.Record().Raw()),
		SystemMetadata: change.SystemMetadata(),
		AuditStamp:     change.AuditStamp(),
		Version:        change.NextAspectVersion(),
	}
	if prev := change.PreviousSystemAspect(); prev != nil {
		item.PreviousRecord = prev.Record
		sm := prev.SystemMetadata
		item.PreviousSystemMetadata = &sm
	}
	return item
}

// DerivedChangeLogItem builds an additional change-log record emitted by a
// side effect rather than by a commit.
func DerivedChangeLogItem(urn Urn, aspectName string, ct ChangeType, rec Record, audit AuditStamp) *ChangeLogItem {
	return &ChangeLogItem{
		ID:         uuid.New(),
		Urn:        urn,
		EntityType: urn.EntityType(),
		AspectName: aspectName,
		ChangeType: ct,
		Record:     NewRecord(rec.Raw()),
		AuditStamp: audit,
	}
}

// Created returns the audit time of the change.
func (c *ChangeLogItem) Created() time.Time { return c.AuditStamp.Time }
