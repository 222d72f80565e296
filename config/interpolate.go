package config

import (
	"os"
	"regexp"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var envTokenPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// InterpolateString replaces ${NAME} tokens with process environment values.
// Unknown variables leave the token unchanged.
func InterpolateString(s string) string {
	return InterpolateStringWith(s, os.LookupEnv)
}

// InterpolateStringWith is InterpolateString with an explicit lookup.
func InterpolateStringWith(s string, lookup func(string) (string, bool)) string {
	return envTokenPattern.ReplaceAllStringFunc(s, func(token string) string {
		name := envTokenPattern.FindStringSubmatch(token)[1]
		if v, ok := lookup(name); ok {
			return v
		}
		return token
	})
}

// Interpolate walks maps and sequences (as decoded from JSON or YAML) and
// interpolates every string value. The input is not modified.
func Interpolate(v any) any {
	return InterpolateWith(v, os.LookupEnv)
}

// InterpolateWith is Interpolate with an explicit lookup.
func InterpolateWith(v any, lookup func(string) (string, bool)) any {
	switch val := v.(type) {
	case string:
		return InterpolateStringWith(val, lookup)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = InterpolateWith(item, lookup)
		}
		return out
	case map[any]any:
		out := make(map[any]any, len(val))
		for k, item := range val {
			out[k] = InterpolateWith(item, lookup)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = InterpolateWith(item, lookup)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = InterpolateStringWith(item, lookup)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, item := range val {
			out[k] = InterpolateStringWith(item, lookup)
		}
		return out
	default:
		return v
	}
}

// =============================================================================
// .env
// =============================================================================

var dotEnvOnce sync.Once

// LoadDotEnv reads the given .env files. Existing process variables win over
// file values; missing files are skipped.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// LoadDotEnvOnce loads path on the first call only.
func LoadDotEnvOnce(path string, logger *zap.Logger) {
	dotEnvOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
		if err := LoadDotEnv(path); err != nil {
			logger.Warn("failed to load .env", zap.String("path", path), zap.Error(err))
			return
		}
		logger.Debug(".env processed", zap.String("path", path))
	})
}
