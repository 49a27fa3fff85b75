package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

// IfVersionMatch is the system-metadata property carrying the version a
// writer expects to replace. A missing aspect has version 0.
const IfVersionMatch = "If-Version-Match"

// ConditionalWriteValidator rejects changes whose If-Version-Match property
// does not name the aspect's latest version.
type ConditionalWriteValidator struct {
	pluginapi.BaseSpec
}

// NewConditionalWriteValidator returns the validator with its default config.
func NewConditionalWriteValidator() *ConditionalWriteValidator {
	return &ConditionalWriteValidator{BaseSpec: pluginapi.BaseSpec{PluginConfig: pluginapi.PluginConfig{
		Name:                       ConditionalWriteName,
		Enabled:                    true,
		SupportedOperations:        writeOperations,
		SupportedEntityAspectNames: anyAspect(),
	}}}
}

// ValidateProposed implements pluginapi.Validator.
func (v *ConditionalWriteValidator) ValidateProposed(_ context.Context, items []domain.BatchItem, _ pluginapi.Retriever) ([]domain.ValidationException, error) {
	var out []domain.ValidationException
	for _, item := range items {
		change, ok := item.(*domain.ChangeMCP)
		if !ok {
			continue
		}
		raw, ok := change.SystemMetadata().Property(IfVersionMatch)
		if !ok {
			continue
		}
		expected, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			out = append(out, domain.NewValidationException(item, fmt.Sprintf("Invalid %s value %q", IfVersionMatch, raw), err))
			continue
		}
		if actual := change.ExpectedVersion(); actual != expected {
			out = append(out, domain.NewValidationException(item, fmt.Sprintf("Expected version %d, actual version %d", expected, actual), nil))
		}
	}
	return out, nil
}

// ValidatePreCommit implements pluginapi.Validator.
func (*ConditionalWriteValidator) ValidatePreCommit(context.Context, []*domain.ChangeMCP, pluginapi.Retriever) ([]domain.ValidationException, error) {
	return nil, nil
}
