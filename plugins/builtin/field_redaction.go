package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

// Redaction names top-level fields removed from an aspect on read. Entity
// and aspect accept pluginapi.Wildcard.
type Redaction struct {
	Entity string   `yaml:"entity"`
	Aspect string   `yaml:"aspect"`
	Fields []string `yaml:"fields"`
}

func (r Redaction) matches(entity, aspect string) bool {
	return (r.Entity == pluginapi.Wildcard || r.Entity == entity) &&
		(r.Aspect == pluginapi.Wildcard || r.Aspect == aspect)
}

// LoadRedactions decodes a redaction document:
//
//	redactions:
//	  - entity: corpuser
//	    aspect: corpUserInfo
//	    fields: [email]
func LoadRedactions(r io.Reader) ([]Redaction, error) {
	var doc struct {
		Redactions []Redaction `yaml:"redactions"`
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode redactions: %w", err)
	}
	for i, red := range doc.Redactions {
		if red.Entity == "" || red.Aspect == "" || len(red.Fields) == 0 {
			return nil, fmt.Errorf("redaction %d needs entity, aspect and fields", i)
		}
	}
	return doc.Redactions, nil
}

// FieldRedactionHook removes configured fields from query results. Writes
// pass through unchanged.
type FieldRedactionHook struct {
	pluginapi.BaseSpec
	redactions []Redaction
}

// NewFieldRedactionHook returns a hook applying to the aspects named by redactions.
func NewFieldRedactionHook(redactions ...Redaction) *FieldRedactionHook {
	pairs := make([]pluginapi.EntityAspectName, 0, len(redactions))
	for _, r := range redactions {
		pairs = append(pairs, pluginapi.EntityAspectName{EntityName: r.Entity, AspectName: r.Aspect})
	}
	return &FieldRedactionHook{
		BaseSpec: pluginapi.BaseSpec{PluginConfig: pluginapi.PluginConfig{
			Name:                       FieldRedactionName,
			Enabled:                    true,
			SupportedEntityAspectNames: pairs,
		}},
		redactions: append([]Redaction(nil), redactions...),
	}
}

// ReadMutation implements pluginapi.MutationHook.
func (h *FieldRedactionHook) ReadMutation(_ context.Context, items []*domain.QueryItem, _ pluginapi.Retriever) ([]*domain.QueryItem, error) {
	out := make([]*domain.QueryItem, len(items))
	for i, item := range items {
		fields := h.fieldsFor(item.EntitySpec().Name, item.AspectName())
		if len(fields) == 0 || item.Record().IsEmpty() {
			out[i] = item
			continue
		}
		rec, err := redact(item.Record(), fields)
		if err != nil {
			return nil, fmt.Errorf("redact %s/%s: %w", item.Urn(), item.AspectName(), err)
		}
		out[i] = item.WithRecord(rec)
	}
	return out, nil
}

// WriteMutation implements pluginapi.MutationHook.
func (*FieldRedactionHook) WriteMutation(_ context.Context, changes []*domain.ChangeMCP, _ pluginapi.Retriever) ([]*domain.ChangeMCP, error) {
	return changes, nil
}

func (h *FieldRedactionHook) fieldsFor(entity, aspect string) []string {
	var fields []string
	for _, r := range h.redactions {
		if r.matches(entity, aspect) {
			fields = append(fields, r.Fields...)
		}
	}
	return fields
}

// redact drops fields while keeping every other value byte-for-byte.
func redact(rec domain.Record, fields []string) (domain.Record, error) {
	var obj map[string]json.RawMessage
	if err := rec.Decode(&obj); err != nil {
		return domain.Record{}, err
	}
	for _, f := range fields {
		delete(obj, f)
	}
	return domain.NewRecordFromValue(obj)
}
