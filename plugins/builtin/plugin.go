// Package builtin provides the plugins every catalog installs: create-only
// and conditional-write validation, key aspect materialization and read-time
// field redaction.
package builtin

import (
	"catalogcore/pkg/pluginapi"
)

// Plugin names. Configuration files refer to plugins by these names.
const (
	CreateIfNotExistsName = "createIfNotExists"
	ConditionalWriteName  = "conditionalWrite"
	KeyAspectName         = "keyAspect"
	FieldRedactionName    = "fieldRedaction"
)

var writeOperations = []string{"UPSERT", "CREATE", "CREATE_ENTITY", "DELETE", "RESTATE"}

func anyAspect() []pluginapi.EntityAspectName {
	return []pluginapi.EntityAspectName{{EntityName: pluginapi.Wildcard, AspectName: pluginapi.Wildcard}}
}

// Plugin bundles the built-in plugins.
type Plugin struct {
	redactions []Redaction
}

// Option configures the bundle.
type Option func(*Plugin)

// WithRedaction hides fields of matching aspects from reads.
func WithRedaction(r Redaction) Option {
	return func(p *Plugin) { p.redactions = append(p.redactions, r) }
}

// New returns the bundle.
func New(opts ...Option) *Plugin {
	p := &Plugin{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements pluginapi.Plugin.
func (*Plugin) Name() string { return "builtin" }

// Version implements pluginapi.Plugin.
func (*Plugin) Version() string { return "1.0.0" }

// Register implements pluginapi.Plugin. The redaction hook is registered
// only when redactions were configured.
func (p *Plugin) Register(r pluginapi.Registry) error {
	if err := r.RegisterValidator(NewCreateIfNotExistsValidator()); err != nil {
		return err
	}
	if err := r.RegisterValidator(NewConditionalWriteValidator()); err != nil {
		return err
	}
	if err := r.RegisterMCPSideEffect(NewKeyAspectSideEffect()); err != nil {
		return err
	}
	if len(p.redactions) == 0 {
		return nil
	}
	return r.RegisterMutationHook(NewFieldRedactionHook(p.redactions...))
}
