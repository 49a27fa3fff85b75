// Package entitymodel loads the entity registry: the entity types, their key
// aspects and the aspects each entity supports.
package entitymodel

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"catalogcore/pkg/domain"
)

//go:embed default_registry.yml
var defaultRegistry []byte

var _ domain.SchemaRegistry = (*Registry)(nil)

// Registry is an immutable domain.SchemaRegistry.
type Registry struct {
	entities map[string]domain.EntitySpec
	version  string
}

type fileFormat struct {
	Entities []entityDoc `yaml:"entities"`
}

type entityDoc struct {
	Name      string      `yaml:"name"`
	KeyAspect string      `yaml:"keyAspect"`
	KeyFields []string    `yaml:"keyFields"`
	Aspects   []aspectDoc `yaml:"aspects"`
}

// aspectDoc accepts either a bare aspect name or a mapping.
type aspectDoc struct {
	Name        string
	ChangeTypes []string
	Default     any
}

func (a *aspectDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&a.Name)
	}
	var raw struct {
		Name        string   `yaml:"name"`
		ChangeTypes []string `yaml:"changeTypes"`
		Default     any      `yaml:"default"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	a.Name, a.ChangeTypes, a.Default = raw.Name, raw.ChangeTypes, raw.Default
	return nil
}

// Default returns the registry embedded in the binary.
func Default() *Registry {
	reg, err := Load(bytes.NewReader(defaultRegistry))
	if err != nil {
		panic(fmt.Sprintf("embedded entity registry: %v", err))
	}
	return reg
}

// DefaultSource returns a copy of the embedded registry document.
func DefaultSource() []byte {
	return append([]byte(nil), defaultRegistry...)
}

// LoadFile reads a registry document from disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load decodes a YAML registry document.
func Load(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc fileFormat
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("registry document is empty")
		}
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	specs := make([]domain.EntitySpec, 0, len(doc.Entities))
	for _, e := range doc.Entities {
		spec, err := e.toSpec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return New(specs...)
}

func (e entityDoc) toSpec() (domain.EntitySpec, error) {
	spec := domain.EntitySpec{
		Name:          e.Name,
		KeyAspectName: e.KeyAspect,
		KeyFields:     append([]string(nil), e.KeyFields...),
		Aspects:       make(map[string]domain.AspectSpec, len(e.Aspects)),
	}
	for _, a := range e.Aspects {
		aspect := domain.AspectSpec{Name: a.Name}
		for _, raw := range a.ChangeTypes {
			ct, err := domain.ParseChangeType(raw)
			if err != nil {
				return domain.EntitySpec{}, fmt.Errorf("entity %s aspect %s: %w", e.Name, a.Name, err)
			}
			aspect.ChangeTypes = append(aspect.ChangeTypes, ct)
		}
		if a.Default != nil {
			raw, err := json.Marshal(a.Default)
			if err != nil {
				return domain.EntitySpec{}, fmt.Errorf("entity %s aspect %s default: %w", e.Name, a.Name, err)
			}
			aspect.Default = domain.NewRecord(raw)
		}
		if _, dup := spec.Aspects[a.Name]; dup {
			return domain.EntitySpec{}, fmt.Errorf("entity %s declares aspect %s twice", e.Name, a.Name)
		}
		spec.Aspects[a.Name] = aspect
	}
	return spec, nil
}

// New builds a registry from entity specs after validating them.
func New(specs ...domain.EntitySpec) (*Registry, error) {
	entities := make(map[string]domain.EntitySpec, len(specs))
	var errs []error
	for _, spec := range specs {
		if err := validateSpec(spec); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := entities[spec.Name]; dup {
			errs = append(errs, fmt.Errorf("entity %s declared twice", spec.Name))
			continue
		}
		entities[spec.Name] = spec
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	reg := &Registry{entities: entities}
	reg.version = reg.fingerprint()
	return reg, nil
}

func validateSpec(spec domain.EntitySpec) error {
	var errs []error
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("entity name required")
	}
	if strings.ContainsAny(spec.Name, ":(),") {
		errs = append(errs, fmt.Errorf("entity %s: name contains urn delimiters", spec.Name))
	}
	if spec.KeyAspectName == "" {
		errs = append(errs, fmt.Errorf("entity %s: key aspect required", spec.Name))
	} else if !spec.HasAspect(spec.KeyAspectName) {
		errs = append(errs, fmt.Errorf("entity %s: key aspect %s is not declared", spec.Name, spec.KeyAspectName))
	}
	if len(spec.KeyFields) == 0 {
		errs = append(errs, fmt.Errorf("entity %s: key fields required", spec.Name))
	}
	for name, aspect := range spec.Aspects {
		if name == "" || aspect.Name != name {
			errs = append(errs, fmt.Errorf("entity %s: aspect %q has mismatched name %q", spec.Name, name, aspect.Name))
		}
		for _, ct := range aspect.ChangeTypes {
			if !ct.Valid() {
				errs = append(errs, fmt.Errorf("entity %s aspect %s: invalid change type %q", spec.Name, name, ct))
			}
		}
		if !aspect.Default.IsEmpty() {
			var obj map[string]any
			if err := aspect.Default.Decode(&obj); err != nil {
				errs = append(errs, fmt.Errorf("entity %s aspect %s: default is not an object", spec.Name, name))
			}
		}
	}
	return errors.Join(errs...)
}

// EntitySpec implements domain.SchemaRegistry.
func (r *Registry) EntitySpec(entityType string) (domain.EntitySpec, error) {
	spec, ok := r.entities[entityType]
	if !ok {
		return domain.EntitySpec{}, domain.SchemaResolutionError{EntityType: entityType}
	}
	return spec, nil
}

// AspectSpec implements domain.SchemaRegistry.
func (r *Registry) AspectSpec(entityType, aspectName string) (domain.AspectSpec, error) {
	spec, err := r.EntitySpec(entityType)
	if err != nil {
		return domain.AspectSpec{}, err
	}
	aspect, ok := spec.Aspects[aspectName]
	if !ok {
		return domain.AspectSpec{}, domain.SchemaResolutionError{EntityType: entityType, AspectName: aspectName}
	}
	return aspect, nil
}

// KeyAspectName implements domain.SchemaRegistry.
func (r *Registry) KeyAspectName(entityType string) (string, error) {
	spec, err := r.EntitySpec(entityType)
	if err != nil {
		return "", err
	}
	return spec.KeyAspectName, nil
}

// EntityNames lists the registered entity types in sorted order.
func (r *Registry) EntityNames() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Version returns a fingerprint of the registry contents. Registries with
// the same entities and aspects share a version.
func (r *Registry) Version() string {
	return r.version
}

func (r *Registry) fingerprint() string {
	h := sha256.New()
	for _, name := range r.EntityNames() {
		spec := r.entities[name]
		_, _ = fmt.Fprintf(h, "entity %s key=%s fields=%s\n", name, spec.KeyAspectName, strings.Join(spec.KeyFields, ","))
		aspects := make([]string, 0, len(spec.Aspects))
		for a := range spec.Aspects {
			aspects = append(aspects, a)
		}
		sort.Strings(aspects)
		for _, a := range aspects {
			aspect := spec.Aspects[a]
			canonical, _ := aspect.Default.Canonical()
			_, _ = fmt.Fprintf(h, "  aspect %s types=%v default=%s\n", a, aspect.ChangeTypes, canonical)
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
