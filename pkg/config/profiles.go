// Package config loads and resolves engine profiles: the TOML file that
// names a concrete backend per (plugin category, usage slot) and selects
// which one is active for a run. It also concentrates all environment
// variable access.
package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"
)

// ProfileVersion is the only profile file format version this build reads.
const ProfileVersion = 1.0

// Plugin categories a profile may configure.
const (
	CategoryLLM       = "llm"
	CategoryEmbedding = "embedding"
	CategoryVectorDB  = "vector_db"
	CategoryDB        = "db"
)

// PluginSpec is one usage slot inside a profile: the backend name plus its
// free-form arguments (model, n_results, threshold, ...).
type PluginSpec struct {
	Name string
	Args map[string]any
}

// Profile maps category → usage → plugin spec after pointer resolution.
type Profile map[string]map[string]PluginSpec

// Profiles is the parsed profile file.
type Profiles struct {
	raw map[string]any
}

// LoadFile reads and parses a profile file, verifying its version.
func LoadFile(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	return p, nil
}

// Parse parses profile TOML, merging it over the built-in profiles so the
// mock profile is always available. User-defined tables override built-ins
// of the same name.
func Parse(data []byte) (*Profiles, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTOML, err)
	}

	version, ok := raw["version"].(float64)
	if !ok || version != ProfileVersion {
		return nil, fmt.Errorf("%w: expected %v, found %v", ErrIncompatibleVersion, ProfileVersion, raw["version"])
	}

	merged := builtinProfileTables()
	if err := mergo.Merge(&merged, raw, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merge built-in profiles: %w", err)
	}

	return &Profiles{raw: merged}, nil
}

// Builtin returns the built-in profiles only (no user file). Used by tests
// and by runs against the mock profile.
func Builtin() *Profiles {
	return &Profiles{raw: builtinProfileTables()}
}

// Resolve returns the named profile, following pointer profiles (type =
// "pointer" with a ptr field) until a concrete table is found. Pointer
// cycles, dangling pointers, and unknown names are configuration errors.
func (p *Profiles) Resolve(name string) (Profile, error) {
	visited := make(map[string]bool)
	return p.resolve(name, visited)
}

func (p *Profiles) resolve(name string, visited map[string]bool) (Profile, error) {
	if visited[name] {
		return nil, fmt.Errorf("%w: profile %q", ErrPointerCycle, name)
	}
	visited[name] = true

	table, ok := p.raw[name].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}

	if table["type"] == "pointer" {
		target, ok := table["ptr"].(string)
		if !ok || target == "" {
			return nil, fmt.Errorf("%w: profile %q", ErrPointerTargetMissing, name)
		}
		return p.resolve(target, visited)
	}

	return parseProfileTable(name, table)
}

func parseProfileTable(name string, table map[string]any) (Profile, error) {
	profile := make(Profile)
	for key, value := range table {
		switch key {
		case "name", "type", "ptr":
			continue
		}
		usages, ok := value.(map[string]any)
		if !ok {
			continue
		}
		profile[key] = make(map[string]PluginSpec, len(usages))
		for usage, specValue := range usages {
			specTable, ok := specValue.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: profile %q, %s.%s is not a table", ErrInvalidTOML, name, key, usage)
			}
			backend, ok := specTable["name"].(string)
			if !ok || backend == "" {
				return nil, fmt.Errorf("%w: profile %q, %s.%s.name", ErrMissingRequiredField, name, key, usage)
			}
			args := make(map[string]any, len(specTable))
			for argKey, argValue := range specTable {
				if argKey == "name" {
					continue
				}
				args[argKey] = argValue
			}
			profile[key][usage] = PluginSpec{Name: backend, Args: args}
		}
	}
	return profile, nil
}
