package patch

import (
	"strconv"
	"strings"

	"catalogcore/pkg/domain"
)

// parsePointer splits a JSON pointer into unescaped reference tokens. The
// empty pointer addresses the document root.
func parsePointer(op, path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	if !strings.HasPrefix(path, "/") {
		return nil, domain.PatchApplicationError{Op: op, Path: path, Reason: "path must start with '/'"}
	}
	raw := strings.Split(path[1:], "/")
	segs := make([]string, len(raw))
	for i, s := range raw {
		segs[i] = strings.ReplaceAll(strings.ReplaceAll(s, "~1", "/"), "~0", "~")
	}
	return segs, nil
}

// arrayIndex parses a plain array index. end permits one past the last
// element; "-" resolves to it.
func arrayIndex(seg string, length int, end bool) (int, bool) {
	if seg == "-" {
		return length, end
	}
	if seg == "" || (len(seg) > 1 && seg[0] == '0') {
		return 0, false
	}
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 {
		return 0, false
	}
	if end {
		return i, i <= length
	}
	return i, i < length
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// normalizeKeys trims leading and trailing slashes from keyed array field paths.
func normalizeKeys(keys map[string][]string) map[string][]string {
	out := make(map[string][]string, len(keys))
	for field, names := range keys {
		out[strings.Trim(field, "/")] = names
	}
	return out
}
