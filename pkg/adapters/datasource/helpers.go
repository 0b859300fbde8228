package datasource

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// BuildQualifiedName sanitizes each part and joins the non-empty ones with dots.
func BuildQualifiedName(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = SanitizeIdentifier(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// SanitizeIdentifier trims whitespace and strips identifier quoting.
func SanitizeIdentifier(identifier string) string {
	return strings.Trim(strings.TrimSpace(identifier), "\"'`")
}

// typePrefixes rewrites long-form SQL type names to their short forms.
// Order matters: the longer spelling must be tried first.
var typePrefixes = []struct{ from, to string }{
	{"TIMESTAMP WITHOUT TIME ZONE", "TIMESTAMP"},
	{"TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ"},
	{"CHARACTER VARYING", "VARCHAR"},
	{"DOUBLE PRECISION", "DOUBLE"},
	{"BIGINTEGER", "BIGINT"},
	{"CHARACTER", "CHAR"},
	{"INTEGER", "INT"},
}

// NormalizeDataType upper-cases a source type name and maps long forms to
// their canonical short names. Any suffix such as a length or precision is
// preserved. An empty type becomes UNKNOWN.
func NormalizeDataType(dataType string) string {
	upper := strings.ToUpper(strings.TrimSpace(dataType))
	if upper == "" {
		return "UNKNOWN"
	}
	for _, m := range typePrefixes {
		if strings.HasPrefix(upper, m.from) {
			return m.to + upper[len(m.from):]
		}
	}
	return upper
}

// ConvertNumeric turns driver-specific numeric representations (decimal
// bytes, decimal strings, json.Number) into int64 when integral and float64
// otherwise. Values it does not recognise are returned unchanged.
func ConvertNumeric(v any) any {
	var s string
	switch n := v.(type) {
	case []byte:
		s = string(n)
	case string:
		s = n
	case json.Number:
		s = n.String()
	case float32:
		return floatOrInt(float64(n))
	case float64:
		return floatOrInt(n)
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint:
		return ConvertNumeric(uint64(n))
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n)
		}
		return float64(n)
	default:
		return v
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatOrInt(f)
	}
	return v
}

func floatOrInt(f float64) any {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// Int64Ptr returns a pointer to the int64 form of a numeric value, or nil.
func Int64Ptr(v any) *int64 {
	switch n := ConvertNumeric(v).(type) {
	case int64:
		return &n
	case float64:
		i := int64(n)
		return &i
	}
	return nil
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
