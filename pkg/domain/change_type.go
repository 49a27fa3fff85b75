package domain

import (
	"fmt"
	"strings"
)

// ChangeType enumerates the mutations a change proposal may request. The
// zero value is the unspecified change type.
type ChangeType string

// Supported change types.
const (
	ChangeUnspecified  ChangeType = ""
	ChangeUpsert       ChangeType = "UPSERT"
	ChangeCreate       ChangeType = "CREATE"
	ChangeCreateEntity ChangeType = "CREATE_ENTITY"
	ChangeDelete       ChangeType = "DELETE"
	ChangePatch        ChangeType = "PATCH"
	ChangeRestate      ChangeType = "RESTATE"
)

var changeTypes = []ChangeType{
	ChangeUpsert,
	ChangeCreate,
	ChangeCreateEntity,
	ChangeDelete,
	ChangePatch,
	ChangeRestate,
}

// ChangeTypes returns every supported change type in declaration order.
func ChangeTypes() []ChangeType {
	return append([]ChangeType(nil), changeTypes...)
}

// ParseChangeType resolves a change type case-insensitively. An empty string
// yields ChangeUnspecified.
func ParseChangeType(raw string) (ChangeType, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ChangeUnspecified, nil
	}
	for _, ct := range changeTypes {
		if strings.EqualFold(trimmed, string(ct)) {
			return ct, nil
		}
	}
	return ChangeUnspecified, fmt.Errorf("unknown change type %q", raw)
}

// Valid reports whether the change type is one of the supported values.
func (c ChangeType) Valid() bool {
	for _, ct := range changeTypes {
		if c == ct {
			return true
		}
	}
	return false
}

func (c ChangeType) String() string {
	if c == ChangeUnspecified {
		return "null"
	}
	return string(c)
}
