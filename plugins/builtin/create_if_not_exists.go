package builtin

import (
	"context"
	"fmt"

	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

// CreateIfNotExistsValidator rejects CREATE changes to aspects that already
// exist and CREATE_ENTITY changes to entities whose key aspect exists.
type CreateIfNotExistsValidator struct {
	pluginapi.BaseSpec
}

// NewCreateIfNotExistsValidator returns the validator with its default config.
func NewCreateIfNotExistsValidator() *CreateIfNotExistsValidator {
	return &CreateIfNotExistsValidator{BaseSpec: pluginapi.BaseSpec{PluginConfig: pluginapi.PluginConfig{
		Name:                       CreateIfNotExistsName,
		Enabled:                    true,
		SupportedOperations:        []string{"CREATE", "CREATE_ENTITY"},
		SupportedEntityAspectNames: anyAspect(),
	}}}
}

// ValidateProposed implements pluginapi.Validator.
func (v *CreateIfNotExistsValidator) ValidateProposed(ctx context.Context, items []domain.BatchItem, r pluginapi.Retriever) ([]domain.ValidationException, error) {
	var entityUrns []domain.Urn
	for _, item := range items {
		if item.ChangeType() == domain.ChangeCreateEntity {
			entityUrns = append(entityUrns, item.Urn())
		}
	}
	exists := map[domain.Urn]bool{}
	if len(entityUrns) > 0 {
		var err error
		exists, err = domain.EntityExists(ctx, r.Aspects(), r.Schema(), entityUrns)
		if err != nil {
			return nil, fmt.Errorf("check entity existence: %w", err)
		}
	}

	var out []domain.ValidationException
	for _, item := range items {
		switch item.ChangeType() {
		case domain.ChangeCreate:
			if aspectExists(item) {
				out = append(out, domain.NewValidationException(item, "Cannot perform CREATE since the aspect already exists.", nil))
			}
		case domain.ChangeCreateEntity:
			if exists[item.Urn()] {
				out = append(out, domain.NewValidationException(item, "Cannot perform CREATE_ENTITY if the entity key already exists.", nil))
			}
		}
	}
	return out, nil
}

// ValidatePreCommit implements pluginapi.Validator.
func (*CreateIfNotExistsValidator) ValidatePreCommit(context.Context, []*domain.ChangeMCP, pluginapi.Retriever) ([]domain.ValidationException, error) {
	return nil, nil
}

// aspectExists uses the previous value the change was normalized against,
// which includes earlier items of the same batch.
func aspectExists(item domain.BatchItem) bool {
	change, ok := item.(*domain.ChangeMCP)
	return ok && change.PreviousSystemAspect() != nil
}
