// Package plugins hosts plugin implementation subpackages. It contains no
// runtime code itself; the architecture guard living alongside this file
// keeps plugin packages on the public pkg/domain and pkg/pluginapi facades.
package plugins
