package schema

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawDescriptor mirrors the on-disk descriptor layout.
type rawDescriptor struct {
	Schemas *struct {
		CommonFields map[string]map[string]string `yaml:"common_fields"`
		Entity       map[string]map[string]string `yaml:"entity"`
		Validations  *rawValidations              `yaml:"validations"`
	} `yaml:"schemas"`
}

type rawValidations struct {
	MandatoryFields map[string][]string      `yaml:"mandatory_fields"`
	TypeConstraints map[string]rawConstraint `yaml:"type_constraints"`
	Initialization  map[string]any           `yaml:"initialization"`
}

type rawConstraint struct {
	Min             *float64       `yaml:"min"`
	Max             *float64       `yaml:"max"`
	MaxLength       *int           `yaml:"max_length"`
	Enum            []any          `yaml:"enum"`
	ItemConstraints *rawItemConfig `yaml:"item_constraints"`
}

type rawItemConfig struct {
	RequiredFields []string          `yaml:"required_fields"`
	TypeMappings   map[string]string `yaml:"type_mappings"`
	Enums          map[string][]any  `yaml:"enums"`
}

// Parse decodes and checks a YAML descriptor for typeName.
// Every problem found is reported, joined into one ErrSchema.
func Parse(typeName string, src []byte) (*Descriptor, error) {
	if strings.TrimSpace(typeName) == "" {
		return nil, fmt.Errorf("%w: type name is required", ErrSchema)
	}

	var raw rawDescriptor
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSchema, typeName, err)
	}
	if raw.Schemas == nil {
		return nil, fmt.Errorf("%w: %s: missing top-level 'schemas' section", ErrSchema, typeName)
	}
	if raw.Schemas.Validations == nil {
		return nil, fmt.Errorf("%w: %s: missing 'schemas.validations' section", ErrSchema, typeName)
	}
	profile, hasProfile := raw.Schemas.CommonFields["profile"]
	if !hasProfile {
		return nil, fmt.Errorf("%w: %s: missing 'schemas.common_fields.profile' section", ErrSchema, typeName)
	}

	p := &parser{
		desc: &Descriptor{
			Type:        typeName,
			Profile:     make(map[string]FieldType, len(profile)),
			Data:        make(map[string]FieldType),
			Mandatory:   make(map[Section][]string),
			Constraints: make(map[string]Constraint),
			Defaults:    make(map[Section]map[string]any),
		},
	}

	p.fields(SectionProfile, profile, p.desc.Profile)
	p.fields(SectionData, raw.Schemas.Entity["data"], p.desc.Data)
	for name := range p.desc.Profile {
		if _, dup := p.desc.Data[name]; dup {
			p.fail("field %q is declared in both profile and data", name)
		}
	}

	v := raw.Schemas.Validations
	p.mandatory(v.MandatoryFields)
	p.constraints(v.TypeConstraints)
	p.initialization(v.Initialization)

	if len(p.problems) > 0 {
		sort.Strings(p.problems)
		return nil, fmt.Errorf("%w: %s: %s", ErrSchema, typeName, strings.Join(p.problems, "; "))
	}
	return p.desc, nil
}

type parser struct {
	desc     *Descriptor
	problems []string
}

func (p *parser) fail(format string, args ...any) {
	p.problems = append(p.problems, fmt.Sprintf(format, args...))
}

func (p *parser) fields(section Section, in map[string]string, out map[string]FieldType) {
	for name, typ := range in {
		ft := FieldType(typ)
		if !ft.Valid() {
			p.fail("%s.%s: unsupported type %q", section, name, typ)
			continue
		}
		out[name] = ft
	}
}

// lookup finds a declared field in either section.
func (p *parser) lookup(name string) (FieldType, Section, bool) {
	if t, ok := p.desc.Profile[name]; ok {
		return t, SectionProfile, true
	}
	if t, ok := p.desc.Data[name]; ok {
		return t, SectionData, true
	}
	return "", "", false
}

func (p *parser) mandatory(in map[string][]string) {
	for sec, names := range in {
		section := Section(sec)
		fields := p.desc.Fields(section)
		if fields == nil {
			p.fail("mandatory_fields: unknown section %q", sec)
			continue
		}
		for _, name := range names {
			if _, ok := fields[name]; !ok {
				p.fail("mandatory_fields.%s: %q is not a declared field", sec, name)
				continue
			}
			p.desc.Mandatory[section] = append(p.desc.Mandatory[section], name)
		}
	}
}

func (p *parser) constraints(in map[string]rawConstraint) {
	for name, rc := range in {
		typ, _, ok := p.lookup(name)
		if !ok {
			p.fail("type_constraints: %q is not a declared field", name)
			continue
		}

		c := Constraint{Min: rc.Min, Max: rc.Max, MaxLength: rc.MaxLength, Enum: stringify(rc.Enum)}
		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			p.fail("type_constraints.%s: min %v is greater than max %v", name, *c.Min, *c.Max)
		}
		if (c.Min != nil || c.Max != nil) && typ != TypeInt && typ != TypeFloat {
			p.fail("type_constraints.%s: min/max only apply to numeric fields", name)
		}

		if rc.ItemConstraints != nil {
			if typ != TypeListDict {
				p.fail("type_constraints.%s: item_constraints only apply to List[Dict] fields", name)
			} else {
				c.Items = p.items(name, rc.ItemConstraints)
			}
		}
		p.desc.Constraints[name] = c
	}
}

func (p *parser) items(field string, in *rawItemConfig) *ItemConstraint {
	ic := &ItemConstraint{
		RequiredFields: in.RequiredFields,
		TypeMappings:   make(map[string]FieldType, len(in.TypeMappings)),
		Enums:          make(map[string][]string, len(in.Enums)),
	}
	for key, typ := range in.TypeMappings {
		ft := FieldType(typ)
		if !ft.Valid() || ft.IsList() {
			p.fail("type_constraints.%s.item_constraints: %q has unsupported item type %q", field, key, typ)
			continue
		}
		ic.TypeMappings[key] = ft
	}
	for key, values := range in.Enums {
		ic.Enums[key] = stringify(values)
	}
	return ic
}

// initialization places defaults: "metadata" merges into metadata, names of
// declared fields go to their section, anything else is an error.
func (p *parser) initialization(in map[string]any) {
	for key, value := range in {
		if key == string(SectionMetadata) {
			m, ok := value.(map[string]any)
			if !ok {
				p.fail("initialization.metadata must be a mapping")
				continue
			}
			p.setDefaults(SectionMetadata, m)
			continue
		}

		typ, section, ok := p.lookup(key)
		if !ok {
			p.fail("initialization: %q is not a declared field", key)
			continue
		}
		if typ.IsList() {
			if _, isList := value.([]any); !isList && value != nil {
				p.fail("initialization.%s: default for %s must be a list", key, typ)
				continue
			}
		}
		p.setDefaults(section, map[string]any{key: value})
	}
}

func (p *parser) setDefaults(section Section, values map[string]any) {
	if p.desc.Defaults[section] == nil {
		p.desc.Defaults[section] = make(map[string]any)
	}
	for k, v := range values {
		p.desc.Defaults[section][k] = v
	}
}

func stringify(values []any) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = fmt.Sprint(v)
	}
	return out
}
