package cfg

import (
	"strconv"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
)

// ParseKeyValues turns "key=value" pairs from the command line into a
// flattened override map keyed by dotted config paths. Key segments are
// normalized to snake_case so callers may write either
// data.test.annFile=... or data.test.ann_file=...
func ParseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.Wrapf(ErrConfiguration, "override %q is not in key=value form", pair)
		}
		out[normalizeKey(key)] = parseValue(value)
	}
	return out, nil
}

func normalizeKey(key string) string {
	segments := strings.Split(key, ".")
	for i, seg := range segments {
		segments[i] = strcase.ToSnake(seg)
	}
	return strings.Join(segments, ".")
}

// parseValue mirrors the env provider convention in the runtime config
// loader: comma-separated values become lists, scalars are coerced to
// bool or number when they parse as one.
func parseValue(value string) any {
	if strings.Contains(value, ",") {
		parts := strings.Split(strings.TrimSpace(value), ",")
		list := make([]any, 0, len(parts))
		for _, p := range parts {
			list = append(list, parseScalar(p))
		}
		return list
	}
	return parseScalar(value)
}

// Numbers parse before booleans: ParseBool accepts "1"/"0"/"t"/"f",
// which would swallow numeric overrides. Only the literal true/false
// spellings become booleans.
func parseScalar(value string) any {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}
