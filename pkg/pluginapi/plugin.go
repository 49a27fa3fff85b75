package pluginapi

import (
	"context"

	"catalogcore/pkg/domain"
)

// Version identifies the plugin contract exposed by this package.
const Version = "v1"

// Category names the four plugin kinds.
type Category string

// Plugin categories.
const (
	CategoryValidator     Category = "validator"
	CategoryMutationHook  Category = "mutation_hook"
	CategoryMCPSideEffect Category = "mcp_side_effect"
	CategoryMCLSideEffect Category = "mcl_side_effect"
)

// Categories returns every category in pipeline order.
func Categories() []Category {
	return []Category{CategoryMutationHook, CategoryValidator, CategoryMCPSideEffect, CategoryMCLSideEffect}
}

// Spec is implemented by every plugin.
type Spec interface {
	Config() PluginConfig
}

// BaseSpec implements Spec for plugins that embed it.
type BaseSpec struct {
	PluginConfig PluginConfig
}

// Config returns a copy of the embedded configuration.
func (b BaseSpec) Config() PluginConfig { return b.PluginConfig.Clone() }

// Retriever is the read access handed to plugins: schema lookups and the
// latest persisted aspects.
type Retriever interface {
	Schema() domain.SchemaRegistry
	Aspects() domain.AspectRetriever
}

// Validator reports per-item failures. Returned exceptions reject the items
// they name; a returned error aborts the batch.
type Validator interface {
	Spec
	// ValidateProposed runs before persistence over the normalized changes.
	ValidateProposed(ctx context.Context, items []domain.BatchItem, r Retriever) ([]domain.ValidationException, error)
	// ValidatePreCommit runs after persistence; failures are reported only.
	ValidatePreCommit(ctx context.Context, changes []*domain.ChangeMCP, r Retriever) ([]domain.ValidationException, error)
}

// MutationHook rewrites items in flight. Both methods must return exactly one
// item per input item, in input order.
type MutationHook interface {
	Spec
	ReadMutation(ctx context.Context, items []*domain.QueryItem, r Retriever) ([]*domain.QueryItem, error)
	WriteMutation(ctx context.Context, changes []*domain.ChangeMCP, r Retriever) ([]*domain.ChangeMCP, error)
}

// MCPSideEffect derives additional changes from accepted ones. Derived items
// are fed back through the pipeline.
type MCPSideEffect interface {
	Spec
	Apply(ctx context.Context, changes []*domain.ChangeMCP, r Retriever) ([]domain.BatchItem, error)
}

// MCLSideEffect derives additional change-log entries from committed ones.
type MCLSideEffect interface {
	Spec
	Apply(ctx context.Context, items []*domain.ChangeLogItem, r Retriever) ([]*domain.ChangeLogItem, error)
}

// Registry accepts plugin registrations during startup.
type Registry interface {
	RegisterValidator(Validator) error
	RegisterMutationHook(MutationHook) error
	RegisterMCPSideEffect(MCPSideEffect) error
	RegisterMCLSideEffect(MCLSideEffect) error
}

// Plugin bundles related plugins under a name and version.
type Plugin interface {
	Name() string
	Version() string
	Register(Registry) error
}
