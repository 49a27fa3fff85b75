package builtin

import (
	"context"
	"fmt"

	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

// KeyAspectSideEffect materializes the key aspect of entities written for
// the first time, so every entity with aspects also has its key persisted.
type KeyAspectSideEffect struct {
	pluginapi.BaseSpec
}

// NewKeyAspectSideEffect returns the side effect with its default config.
func NewKeyAspectSideEffect() *KeyAspectSideEffect {
	return &KeyAspectSideEffect{BaseSpec: pluginapi.BaseSpec{PluginConfig: pluginapi.PluginConfig{
		Name:                       KeyAspectName,
		Enabled:                    true,
		SupportedOperations:        []string{"UPSERT", "CREATE", "CREATE_ENTITY", "RESTATE"},
		SupportedEntityAspectNames: anyAspect(),
	}}}
}

// Apply implements pluginapi.MCPSideEffect.
func (s *KeyAspectSideEffect) Apply(ctx context.Context, changes []*domain.ChangeMCP, r pluginapi.Retriever) ([]domain.BatchItem, error) {
	first := make(map[domain.Urn]*domain.ChangeMCP)
	var urns []domain.Urn
	for _, c := range changes {
		if c.ChangeType() == domain.ChangeDelete {
			continue
		}
		if c.AspectName() == c.EntitySpec().KeyAspectName {
			// The batch writes the key itself.
			first[c.Urn()] = nil
			continue
		}
		if _, seen := first[c.Urn()]; !seen {
			first[c.Urn()] = c
			urns = append(urns, c.Urn())
		}
	}
	if len(urns) == 0 {
		return nil, nil
	}
	exists, err := domain.EntityExists(ctx, r.Aspects(), r.Schema(), urns)
	if err != nil {
		return nil, fmt.Errorf("check entity existence: %w", err)
	}

	var out []domain.BatchItem
	for _, urn := range urns {
		c := first[urn]
		if c == nil || exists[urn] {
			continue
		}
		spec := c.EntitySpec()
		key, err := domain.KeyAspectFromUrn(urn, spec.KeyFields)
		if err != nil {
			return nil, err
		}
		item, err := domain.NewChangeItem(r.Schema(), domain.ChangeFields{
			Urn:            urn,
			AspectName:     spec.KeyAspectName,
			ChangeType:     domain.ChangeUpsert,
			Record:         key,
			SystemMetadata: c.SystemMetadata(),
			AuditStamp:     c.AuditStamp(),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
