package domain

import (
	"fmt"
	"strings"
)

const urnPrefix = "urn:li:"

// Urn is the opaque identifier of a catalog entity, e.g. urn:li:dataset:(urn:li:dataPlatform:hive,db.t,PROD).
type Urn string

// ParseUrn validates the urn envelope and returns it typed.
func ParseUrn(raw string) (Urn, error) {
	u := Urn(strings.TrimSpace(raw))
	if !strings.HasPrefix(string(u), urnPrefix) {
		return "", fmt.Errorf("invalid urn %q: missing %q prefix", raw, urnPrefix)
	}
	if u.EntityType() == "" {
		return "", fmt.Errorf("invalid urn %q: missing entity type", raw)
	}
	if u.Key() == "" {
		return "", fmt.Errorf("invalid urn %q: missing entity key", raw)
	}
	return u, nil
}

// MustParseUrn is ParseUrn for literals in tests and fixtures.
func MustParseUrn(raw string) Urn {
	u, err := ParseUrn(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// EntityType returns the entity type segment of the urn.
func (u Urn) EntityType() string {
	rest, ok := strings.CutPrefix(string(u), urnPrefix)
	if !ok {
		return ""
	}
	entityType, _, _ := strings.Cut(rest, ":")
	return entityType
}

// Key returns everything after the entity type segment.
func (u Urn) Key() string {
	rest, ok := strings.CutPrefix(string(u), urnPrefix)
	if !ok {
		return ""
	}
	_, key, _ := strings.Cut(rest, ":")
	return key
}

func (u Urn) String() string { return string(u) }

// UrnFromKeyAspect derives an entity urn from its key aspect. A single key
// field yields urn:li:<type>:<value>; several yield urn:li:<type>:(v1,v2).
// Key fields must be strings so that KeyAspectFromUrn rebuilds the same aspect.
func UrnFromKeyAspect(entityType string, keyFields []string, key Record) (Urn, error) {
	if len(keyFields) == 0 {
		return "", fmt.Errorf("entity %s declares no key fields", entityType)
	}
	var fields map[string]any
	if err := key.Decode(&fields); err != nil {
		return "", fmt.Errorf("decode key aspect for %s: %w", entityType, err)
	}
	parts := make([]string, 0, len(keyFields))
	for _, name := range keyFields {
		v, ok := fields[name]
		if !ok || v == nil {
			return "", fmt.Errorf("key aspect for %s missing field %q", entityType, name)
		}
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("key aspect for %s: field %q must be a string, got %T", entityType, name, v)
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return ParseUrn(urnPrefix + entityType + ":" + parts[0])
	}
	return ParseUrn(urnPrefix + entityType + ":(" + strings.Join(parts, ",") + ")")
}

// KeyAspectFromUrn is the inverse of UrnFromKeyAspect: it splits the urn key
// into its key fields and returns the encoded key aspect.
func KeyAspectFromUrn(u Urn, keyFields []string) (Record, error) {
	if len(keyFields) == 0 {
		return Record{}, fmt.Errorf("entity %s declares no key fields", u.EntityType())
	}
	key := u.Key()
	var parts []string
	if len(keyFields) == 1 {
		parts = []string{key}
	} else {
		if !strings.HasPrefix(key, "(") || !strings.HasSuffix(key, ")") {
			return Record{}, fmt.Errorf("urn %s: expected tuple key with %d fields", u, len(keyFields))
		}
		parts = splitTuple(key[1 : len(key)-1])
	}
	if len(parts) != len(keyFields) {
		return Record{}, fmt.Errorf("urn %s: expected %d key fields, found %d", u, len(keyFields), len(parts))
	}
	fields := make(map[string]any, len(parts))
	for i, name := range keyFields {
		fields[name] = parts[i]
	}
	return NewRecordFromValue(fields)
}

// splitTuple splits on top-level commas, leaving nested (...) groups intact.
func splitTuple(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
