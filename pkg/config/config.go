// Package config loads and merges component configuration from file
// sources into a single system.Config.
//
// Two source formats are recognized by extension: structured YAML
// documents (.yaml), and flat line-oriented key=value files (.env) whose
// dotted keys are derived into nested locations with simple scalar type
// inference. Resource directories are scanned one level deep and their
// files applied in filename order; a local override file, when given,
// always wins.
//
// Merge precedence, lowest to highest:
//  1. structured resource files, in directory order then filename order
//  2. flat resource files, same ordering
//  3. the local override file
//
// Within a merge step, nested maps merge recursively key by key and
// non-map values overwrite wholesale.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/keelframework/keel/pkg/system"
)

// Recognized source file extensions.
const (
	// ExtStructured marks nested-map YAML sources.
	ExtStructured = ".yaml"

	// ExtFlat marks flat key=value sources.
	ExtFlat = ".env"
)

// Provenance records the sources a merged config was derived from,
// sufficient to recompute the identical merge later without being told
// them again. It is attached to the config under system.MetaSource.
type Provenance struct {
	// LocalFile is the local override file path, if any.
	LocalFile string `yaml:"local_file"`

	// ResourceDirs are the scanned resource directories, in order.
	ResourceDirs []string `yaml:"resource_dirs"`

	// ResourceFiles is the resolved resource file list, in the order the
	// files were applied.
	ResourceFiles []string `yaml:"resource_files"`
}

// Options configures a Load call.
type Options struct {
	// LocalFile is an optional override file, structured or flat by
	// extension, merged with top precedence.
	LocalFile string `validate:"omitempty"`

	// ResourceDirs are directories scanned non-recursively for source
	// files of either extension.
	ResourceDirs []string `validate:"omitempty,dive,required"`

	// Config enables re-entrant mode: when no sources are given and
	// Config carries a provenance record, sources are re-derived from
	// that record.
	Config system.Config

	// Resolver, when set, is consulted to verify that every top-level key
	// of the merged config has a resolvable init behavior.
	Resolver system.Resolver
}

var validate = validator.New()

// Load merges all configured sources into one Config, verifies key
// ownership against the resolver, and tags the result with its provenance.
func Load(opts Options) (system.Config, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, system.NewConfigLoadError("invalid loader options", err)
	}

	if opts.LocalFile == "" && len(opts.ResourceDirs) == 0 {
		prov := ProvenanceOf(opts.Config)
		if prov == nil {
			return nil, system.NewConfigLoadError("no sources given and no provenance record to re-derive them from", nil)
		}
		opts.LocalFile = prov.LocalFile
		opts.ResourceDirs = prov.ResourceDirs
	}

	structured, flat, err := resolveSources(opts.ResourceDirs)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any)
	for _, path := range structured {
		doc, err := loadStructured(path)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, doc)
	}
	for _, path := range flat {
		doc, err := loadFlat(path)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, doc)
	}

	if opts.LocalFile != "" {
		doc, err := loadLocal(opts.LocalFile)
		if err != nil {
			return nil, err
		}
		deepMerge(merged, doc)
	}

	cfg := system.Config(merged)
	if err := checkOwners(cfg, opts.Resolver); err != nil {
		return nil, err
	}

	cfg[system.MetaKeys] = cfg.Keys()
	cfg[system.MetaSource] = &Provenance{
		LocalFile:     opts.LocalFile,
		ResourceDirs:  append([]string(nil), opts.ResourceDirs...),
		ResourceFiles: append(structured, flat...),
	}
	return cfg, nil
}

// Reload recomputes the merge for a config that already carries a
// provenance record, reusing the exact same sources.
func Reload(cfg system.Config, resolver system.Resolver) (system.Config, error) {
	return Load(Options{Config: cfg, Resolver: resolver})
}

// ProvenanceOf returns the provenance record attached to cfg, or nil.
func ProvenanceOf(cfg system.Config) *Provenance {
	if cfg == nil {
		return nil
	}
	prov, _ := cfg[system.MetaSource].(*Provenance)
	return prov
}

// resolveSources lists the immediate files of each resource directory with
// a recognized extension, sorted by filename within each directory.
// Structured and flat sources are returned separately because flat sources
// always overlay structured ones.
func resolveSources(dirs []string) (structured, flat []string, err error) {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, nil, system.NewConfigLoadError(fmt.Sprintf("reading resource directory %s", dir), err)
		}

		var names []string
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			switch filepath.Ext(entry.Name()) {
			case ExtStructured, ExtFlat:
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, name)
			if filepath.Ext(name) == ExtStructured {
				structured = append(structured, path)
			} else {
				flat = append(flat, path)
			}
		}
	}
	return structured, flat, nil
}

// loadLocal loads the local override file, structured or flat by extension.
func loadLocal(path string) (map[string]any, error) {
	switch filepath.Ext(path) {
	case ExtStructured:
		return loadStructured(path)
	case ExtFlat:
		return loadFlat(path)
	default:
		return nil, system.NewConfigLoadError(
			fmt.Sprintf("local file %s has unrecognized extension %q", path, filepath.Ext(path)), nil)
	}
}

// loadStructured parses a YAML source into a nested map.
func loadStructured(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, system.NewConfigLoadError(fmt.Sprintf("reading %s", path), err)
	}
	doc := make(map[string]any)
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, system.NewConfigLoadError(fmt.Sprintf("parsing %s", path), err)
	}
	return doc, nil
}

// deepMerge merges src into dst. When both sides hold a map for the same
// key the maps merge recursively; any other source value overwrites
// wholesale, zero values included.
func deepMerge(dst map[string]any, src map[string]any) {
	for key, value := range src {
		if srcMap, ok := value.(map[string]any); ok {
			if dstMap, ok := dst[key].(map[string]any); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = value
	}
}

// checkOwners verifies that every top-level key resolves an init behavior
// through the taxonomy, so a typoed or unimplemented key fails at load
// time rather than halfway through instantiation.
func checkOwners(cfg system.Config, resolver system.Resolver) error {
	if resolver == nil {
		return nil
	}
	keys := cfg.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		if _, err := resolver.Resolve(key, system.OpInit); err != nil {
			if system.IsUnregisteredTag(err) {
				return system.NewConfigLoadError(
					fmt.Sprintf("no implementation loaded for key %s", key), err).
					WithKey(key).WithOp(system.OpInit)
			}
			return err
		}
	}
	return nil
}

// qualifier splits a dotted flat key into its top-level key and the path
// below it. The first dot separates the two; a key without dots is
// entirely top-level.
func qualifier(key string) (top string, path []string) {
	parts := strings.Split(key, ".")
	return parts[0], parts[1:]
}
