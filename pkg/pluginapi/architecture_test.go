package pluginapi

import (
	"testing"

	"catalogcore/testutil"
)

// TestPluginAPIHasNoInternalDependencies keeps the plugin facade importable
// by out-of-tree plugins.
func TestPluginAPIHasNoInternalDependencies(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, ".", testutil.InternalImportForbidden, "pluginapi is the public plugin facade")
}
