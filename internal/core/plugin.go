package core

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

// Registered pairs a plugin with the configuration it was registered under.
type Registered[T pluginapi.Spec] struct {
	Plugin T
	Config pluginapi.PluginConfig
}

// Applies reports whether the plugin handles item.
func (r Registered[T]) Applies(item domain.BatchItem) bool {
	return r.Config.ShouldApply(item.ChangeType(), item.EntitySpec().Name, item.AspectName())
}

// PluginRegistry holds the plugins of each category in registration order.
// Registration happens during startup; after Freeze the registry is
// read-only and safe for concurrent use.
type PluginRegistry struct {
	frozen         atomic.Bool
	overrides      map[string]pluginapi.PluginConfig
	validators     []Registered[pluginapi.Validator]
	mutationHooks  []Registered[pluginapi.MutationHook]
	mcpSideEffects []Registered[pluginapi.MCPSideEffect]
	mclSideEffects []Registered[pluginapi.MCLSideEffect]
}

// NewPluginRegistry constructs an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{overrides: make(map[string]pluginapi.PluginConfig)}
}

var _ pluginapi.Registry = (*PluginRegistry)(nil)

// RegisterValidator adds a validator.
func (r *PluginRegistry) RegisterValidator(v pluginapi.Validator) error {
	return register(r, &r.validators, v)
}

// RegisterMutationHook adds a mutation hook.
func (r *PluginRegistry) RegisterMutationHook(h pluginapi.MutationHook) error {
	return register(r, &r.mutationHooks, h)
}

// RegisterMCPSideEffect adds a proposal side effect.
func (r *PluginRegistry) RegisterMCPSideEffect(s pluginapi.MCPSideEffect) error {
	return register(r, &r.mcpSideEffects, s)
}

// RegisterMCLSideEffect adds a change-log side effect.
func (r *PluginRegistry) RegisterMCLSideEffect(s pluginapi.MCLSideEffect) error {
	return register(r, &r.mclSideEffects, s)
}

func register[T pluginapi.Spec](r *PluginRegistry, list *[]Registered[T], plugin T) error {
	if r.frozen.Load() {
		return domain.ErrRegistryFrozen
	}
	if any(plugin) == nil {
		return errors.New("plugin cannot be nil")
	}
	cfg := plugin.Config()
	if override, ok := r.overrides[cfg.Name]; ok {
		cfg = override.Clone()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("register plugin: %w", err)
	}
	*list = append(*list, Registered[T]{Plugin: plugin, Config: cfg})
	return nil
}

// ApplyPluginConfigs overrides plugin configurations by name. Overrides apply
// to plugins already registered and to later registrations.
func (r *PluginRegistry) ApplyPluginConfigs(configs []pluginapi.PluginConfig) error {
	if r.frozen.Load() {
		return domain.ErrRegistryFrozen
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	for _, cfg := range configs {
		r.overrides[cfg.Name] = cfg.Clone()
	}
	reconfigure(r.overrides, r.validators)
	reconfigure(r.overrides, r.mutationHooks)
	reconfigure(r.overrides, r.mcpSideEffects)
	reconfigure(r.overrides, r.mclSideEffects)
	return nil
}

func reconfigure[T pluginapi.Spec](overrides map[string]pluginapi.PluginConfig, list []Registered[T]) {
	for i := range list {
		if cfg, ok := overrides[list[i].Config.Name]; ok {
			list[i].Config = cfg.Clone()
		}
	}
}

// Freeze ends registration. It is idempotent.
func (r *PluginRegistry) Freeze() { r.frozen.Store(true) }

// Frozen reports whether Freeze has been called.
func (r *PluginRegistry) Frozen() bool { return r.frozen.Load() }

// AllValidators returns every registered validator in registration order.
func (r *PluginRegistry) AllValidators() []Registered[pluginapi.Validator] {
	return append([]Registered[pluginapi.Validator](nil), r.validators...)
}

// AllMutationHooks returns every registered mutation hook in registration order.
func (r *PluginRegistry) AllMutationHooks() []Registered[pluginapi.MutationHook] {
	return append([]Registered[pluginapi.MutationHook](nil), r.mutationHooks...)
}

// AllMCPSideEffects returns every registered proposal side effect in registration order.
func (r *PluginRegistry) AllMCPSideEffects() []Registered[pluginapi.MCPSideEffect] {
	return append([]Registered[pluginapi.MCPSideEffect](nil), r.mcpSideEffects...)
}

// AllMCLSideEffects returns every registered change-log side effect in registration order.
func (r *PluginRegistry) AllMCLSideEffects() []Registered[pluginapi.MCLSideEffect] {
	return append([]Registered[pluginapi.MCLSideEffect](nil), r.mclSideEffects...)
}

func match[T pluginapi.Spec](list []Registered[T], ct domain.ChangeType, entity, aspect string) []T {
	var out []T
	for _, reg := range list {
		if reg.Config.ShouldApply(ct, entity, aspect) {
			out = append(out, reg.Plugin)
		}
	}
	return out
}

// Validators returns the validators applicable to (ct, entity, aspect).
func (r *PluginRegistry) Validators(ct domain.ChangeType, entity, aspect string) []pluginapi.Validator {
	return match(r.validators, ct, entity, aspect)
}

// MutationHooks returns the mutation hooks applicable to (ct, entity, aspect).
func (r *PluginRegistry) MutationHooks(ct domain.ChangeType, entity, aspect string) []pluginapi.MutationHook {
	return match(r.mutationHooks, ct, entity, aspect)
}

// MCPSideEffects returns the proposal side effects applicable to (ct, entity, aspect).
func (r *PluginRegistry) MCPSideEffects(ct domain.ChangeType, entity, aspect string) []pluginapi.MCPSideEffect {
	return match(r.mcpSideEffects, ct, entity, aspect)
}

// MCLSideEffects returns the change-log side effects applicable to (ct, entity, aspect).
func (r *PluginRegistry) MCLSideEffects(ct domain.ChangeType, entity, aspect string) []pluginapi.MCLSideEffect {
	return match(r.mclSideEffects, ct, entity, aspect)
}

// Match returns the applicable plugins of category in registration order. An
// unknown category matches nothing.
func (r *PluginRegistry) Match(category pluginapi.Category, ct domain.ChangeType, entity, aspect string) []pluginapi.Spec {
	var out []pluginapi.Spec
	switch category {
	case pluginapi.CategoryValidator:
		for _, p := range r.Validators(ct, entity, aspect) {
			out = append(out, p)
		}
	case pluginapi.CategoryMutationHook:
		for _, p := range r.MutationHooks(ct, entity, aspect) {
			out = append(out, p)
		}
	case pluginapi.CategoryMCPSideEffect:
		for _, p := range r.MCPSideEffects(ct, entity, aspect) {
			out = append(out, p)
		}
	case pluginapi.CategoryMCLSideEffect:
		for _, p := range r.MCLSideEffects(ct, entity, aspect) {
			out = append(out, p)
		}
	}
	return out
}

// PluginDescriptor names one registered plugin.
type PluginDescriptor struct {
	Category pluginapi.Category
	Name     string
	Enabled  bool
}

// Descriptors lists every registration grouped by category in pipeline order.
func (r *PluginRegistry) Descriptors() []PluginDescriptor {
	var out []PluginDescriptor
	add := func(category pluginapi.Category, cfg pluginapi.PluginConfig) {
		out = append(out, PluginDescriptor{Category: category, Name: cfg.Name, Enabled: cfg.Enabled})
	}
	for _, reg := range r.mutationHooks {
		add(pluginapi.CategoryMutationHook, reg.Config)
	}
	for _, reg := range r.validators {
		add(pluginapi.CategoryValidator, reg.Config)
	}
	for _, reg := range r.mcpSideEffects {
		add(pluginapi.CategoryMCPSideEffect, reg.Config)
	}
	for _, reg := range r.mclSideEffects {
		add(pluginapi.CategoryMCLSideEffect, reg.Config)
	}
	return out
}

// PluginMetadata describes an installed plugin bundle.
type PluginMetadata struct {
	Name    string
	Version string
	Plugins []PluginDescriptor
}

type pluginConfigFile struct {
	Plugins []pluginapi.PluginConfig `yaml:"plugins"`
}

// LoadPluginConfigs parses a YAML document of the form
//
//	plugins:
//	  - className: createIfNotExists
//	    enabled: true
//	    supportedOperations: [CREATE, CREATE_ENTITY]
//	    supportedEntityAspectNames:
//	      - entityName: "*"
//	        aspectName: "*"
//
// Every entry is validated.
func LoadPluginConfigs(r io.Reader) ([]pluginapi.PluginConfig, error) {
	var file pluginConfigFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode plugin configs: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Plugins))
	for _, cfg := range file.Plugins {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("plugin %q configured twice", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}
	return file.Plugins, nil
}
