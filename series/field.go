package series

import (
	"regexp"
	"strings"
)

// Field is the stable key of a column. Provider adapters normalize upstream
// names into fields, so the rest of the pipeline never sees raw column names.
type Field string

const (
	TempAir       Field = "temp_air"   // K
	TempDew       Field = "temp_dew"   // K
	Pressure      Field = "pressure"   // Pa
	WindSpeed     Field = "wind_speed" // m/s
	Clouds        Field = "clouds"     // %
	GHI           Field = "ghi"        // W/m²
	Kt            Field = "kt"
	Precipitation Field = "precipitation" // mm/h
	Zenith        Field = "zenith"        // degrees
)

var fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Valid reports whether f can be used as a column name in every backend.
func (f Field) Valid() bool {
	return len(f) <= 63 && fieldPattern.MatchString(string(f))
}

func (f Field) WithSuffix(suffix string) Field {
	if suffix == "" {
		return f
	}
	return Field(string(f) + "_" + suffix)
}

func (f Field) HasPrefix(prefix string) bool {
	return strings.HasPrefix(string(f), prefix)
}

func (f Field) String() string {
	return string(f)
}

// NormalizeField turns an arbitrary upstream column name into a valid Field:
// lower case, runs of other characters collapsed into a single underscore.
func NormalizeField(name string) Field {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore && b.Len() > 0 {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	s := strings.TrimRight(b.String(), "_")
	if s == "" {
		return "f"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "f_" + s
	}
	if len(s) > 63 {
		s = s[:63]
	}
	return Field(s)
}

func Fields(names ...string) []Field {
	fields := make([]Field, len(names))
	for i, n := range names {
		fields[i] = Field(n)
	}
	return fields
}
