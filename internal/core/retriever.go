package core

import (
	"catalogcore/pkg/domain"
	"catalogcore/pkg/pluginapi"
)

// RetrieverContext carries the collaborators every pipeline stage needs. It
// is passed explicitly; nothing in the pipeline reaches for globals.
type RetrieverContext struct {
	PluginRegistry  *PluginRegistry
	SchemaRegistry  domain.SchemaRegistry
	AspectRetriever domain.AspectRetriever
}

var _ pluginapi.Retriever = RetrieverContext{}

// Schema implements pluginapi.Retriever.
func (c RetrieverContext) Schema() domain.SchemaRegistry { return c.SchemaRegistry }

// Aspects implements pluginapi.Retriever.
func (c RetrieverContext) Aspects() domain.AspectRetriever { return c.AspectRetriever }

func (c RetrieverContext) plugins() *PluginRegistry {
	if c.PluginRegistry == nil {
		return NewPluginRegistry()
	}
	return c.PluginRegistry
}
