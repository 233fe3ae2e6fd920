package schema

import "slices"

// FieldType is the declared primitive type of a field.
type FieldType string

// Supported field types. The spellings match the descriptor files.
const (
	TypeString     FieldType = "str"
	TypeInt        FieldType = "int"
	TypeFloat      FieldType = "float"
	TypeBool       FieldType = "bool"
	TypeDatetime   FieldType = "datetime"
	TypeListDict   FieldType = "List[Dict]"
	TypeListString FieldType = "List[str]"
)

// Valid reports whether t is a supported field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool, TypeDatetime, TypeListDict, TypeListString:
		return true
	}
	return false
}

// IsList reports whether t is one of the list types.
func (t FieldType) IsList() bool {
	return t == TypeListDict || t == TypeListString
}

// Section names an entity document section.
type Section string

// Entity document sections.
const (
	SectionProfile  Section = "profile"
	SectionData     Section = "data"
	SectionMetadata Section = "metadata"
)

// Constraint holds the validation rules declared for one field.
type Constraint struct {
	Min       *float64
	Max       *float64
	MaxLength *int
	Enum      []string
	Items     *ItemConstraint
}

// ItemConstraint holds the per-item rules of a List[Dict] field.
type ItemConstraint struct {
	RequiredFields []string
	TypeMappings   map[string]FieldType
	Enums          map[string][]string
}

// Descriptor is the parsed, read-only schema of one entity type.
// Descriptors are shared between goroutines and must not be mutated
// after Load returns them.
type Descriptor struct {
	Type    string
	Profile map[string]FieldType
	Data    map[string]FieldType

	// Mandatory lists the fields per section that must be non-null.
	Mandatory map[Section][]string

	// Constraints is keyed by field name. Profile and data fields share
	// one namespace.
	Constraints map[string]Constraint

	// Defaults holds initialization values per section.
	Defaults map[Section]map[string]any
}

// Fields returns the declared fields of a section.
func (d *Descriptor) Fields(section Section) map[string]FieldType {
	switch section {
	case SectionProfile:
		return d.Profile
	case SectionData:
		return d.Data
	}
	return nil
}

// IsMandatory reports whether field must be non-null in section.
func (d *Descriptor) IsMandatory(section Section, field string) bool {
	return slices.Contains(d.Mandatory[section], field)
}

// Constraint returns the rules for field, if any.
func (d *Descriptor) Constraint(field string) (Constraint, bool) {
	c, ok := d.Constraints[field]
	return c, ok
}
