package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LocalBinEnvPath returns $HOME/.local/bin/.env, or "" when the home
// directory cannot be resolved.
func LocalBinEnvPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".local", "bin", ".env")
}

// LoadEnvFiles loads each existing file with non-overwriting semantics:
// variables already present in the environment win. Missing files are
// skipped; the paths actually loaded are returned.
func LoadEnvFiles(paths ...string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// EnvBool reports whether the variable holds a truthy value
// (1, true, yes, on; case-insensitive).
func EnvBool(name string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(name))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// EnvBoolDefault is EnvBool with a default for unset or blank variables.
func EnvBoolDefault(name string, def bool) bool {
	if strings.TrimSpace(os.Getenv(name)) == "" {
		return def
	}
	return EnvBool(name)
}

// EnvString returns the trimmed value or def when blank.
func EnvString(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// EnvInt64 parses the variable, returning def when blank. An invalid value
// returns def and an error naming the variable.
func EnvInt64(name string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%s: invalid integer %q", name, v)
	}
	return n, nil
}

// EnvDuration parses a Go duration, returning def when blank. An invalid
// value returns def and an error naming the variable.
func EnvDuration(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: invalid duration %q", name, v)
	}
	return d, nil
}

// ParseInt64List parses a comma or space separated list of integers.
func ParseInt64List(s string) ([]int64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == ';' })
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", f, err)
		}
		out = append(out, n)
	}
	return out, nil
}
