package effect

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed effects/*.glsl
var builtin embed.FS

const ext = ".glsl"

// Library resolves effect names to source text. Files in Dir take
// precedence over the built-in effects.
type Library struct {
	Dir string
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && name != "." && name != ".."
}

// Load returns the source of the named effect.
func (l Library) Load(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", ErrEffectNotFound, name)
	}
	if l.Dir != "" {
		b, err := os.ReadFile(filepath.Join(l.Dir, name+ext))
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read effect %s: %w", name, err)
		}
	}
	b, err := builtin.ReadFile("effects/" + name + ext)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrEffectNotFound, name)
	}
	return string(b), nil
}

// List returns the names of all available effects, sorted.
func (l Library) List() ([]string, error) {
	names := make(map[string]bool)
	entries, err := builtin.ReadDir("effects")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		names[strings.TrimSuffix(e.Name(), ext)] = true
	}
	if l.Dir != "" {
		entries, err := os.ReadDir(l.Dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to list effects in %s: %w", l.Dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
				names[strings.TrimSuffix(e.Name(), ext)] = true
			}
		}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}
