package pluginapi

import (
	"errors"
	"fmt"
	"strings"

	"catalogcore/pkg/domain"
)

// Wildcard matches any entity or aspect name in a PluginConfig entry.
const Wildcard = "*"

// EntityAspectName is one (entity, aspect) pair a plugin applies to. Either
// side may be Wildcard.
type EntityAspectName struct {
	EntityName string `yaml:"entityName" json:"entityName"`
	AspectName string `yaml:"aspectName" json:"aspectName"`
}

// PluginConfig is the applicability filter attached to every plugin.
type PluginConfig struct {
	Name                       string             `yaml:"className" json:"className"`
	Enabled                    bool               `yaml:"enabled" json:"enabled"`
	SupportedOperations        []string           `yaml:"supportedOperations" json:"supportedOperations"`
	SupportedEntityAspectNames []EntityAspectName `yaml:"supportedEntityAspectNames" json:"supportedEntityAspectNames"`
}

// ShouldApply reports whether the plugin handles a change of type ct to
// aspect of entity. A plugin with no supported operations only matches items
// without a change type; query items are such items.
func (c PluginConfig) ShouldApply(ct domain.ChangeType, entity, aspect string) bool {
	return c.Enabled && c.supportsChangeType(ct) && c.supportsEntity(entity) && c.supportsAspect(aspect)
}

func (c PluginConfig) supportsChangeType(ct domain.ChangeType) bool {
	if ct == domain.ChangeUnspecified && len(c.SupportedOperations) == 0 {
		return true
	}
	for _, op := range c.SupportedOperations {
		if strings.EqualFold(strings.TrimSpace(op), ct.String()) {
			return true
		}
	}
	return false
}

func (c PluginConfig) supportsEntity(entity string) bool {
	for _, pair := range c.SupportedEntityAspectNames {
		if pair.EntityName == Wildcard || pair.EntityName == entity {
			return true
		}
	}
	return false
}

func (c PluginConfig) supportsAspect(aspect string) bool {
	for _, pair := range c.SupportedEntityAspectNames {
		if pair.AspectName == Wildcard || pair.AspectName == aspect {
			return true
		}
	}
	return false
}

// Validate checks the configuration is usable for registration.
func (c PluginConfig) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Name) == "" {
		errs = append(errs, errors.New("plugin name required"))
	}
	if len(c.SupportedEntityAspectNames) == 0 {
		errs = append(errs, fmt.Errorf("plugin %q: at least one entity/aspect entry required", c.Name))
	}
	for i, pair := range c.SupportedEntityAspectNames {
		if strings.TrimSpace(pair.EntityName) == "" || strings.TrimSpace(pair.AspectName) == "" {
			errs = append(errs, fmt.Errorf("plugin %q: entry %d needs both entity and aspect names", c.Name, i))
		}
	}
	for _, op := range c.SupportedOperations {
		ct, err := domain.ParseChangeType(op)
		if err != nil {
			errs = append(errs, fmt.Errorf("plugin %q: %w", c.Name, err))
			continue
		}
		if ct == domain.ChangeUnspecified {
			errs = append(errs, fmt.Errorf("plugin %q: empty supported operation", c.Name))
		}
	}
	return errors.Join(errs...)
}

// Clone returns a copy sharing no slices with c.
func (c PluginConfig) Clone() PluginConfig {
	cp := c
	cp.SupportedOperations = append([]string(nil), c.SupportedOperations...)
	cp.SupportedEntityAspectNames = append([]EntityAspectName(nil), c.SupportedEntityAspectNames...)
	return cp
}
