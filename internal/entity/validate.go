package entity

import (
	"fmt"
	"slices"
	"sort"
	"unicode/utf8"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/schema"
)

// validator walks a document section against a descriptor, collecting
// every violation and producing the normalised section.
type validator struct {
	desc       *schema.Descriptor
	violations []Violation
}

func (v *validator) add(path, rule, format string, args ...any) {
	v.violations = append(v.violations, Violation{
		Path:    path,
		Rule:    rule,
		Message: fmt.Sprintf(format, args...),
	})
}

func (v *validator) err() error {
	if len(v.violations) == 0 {
		return nil
	}
	return &ValidationError{EntityType: v.desc.Type, Violations: v.violations}
}

// section validates values against the declared fields of section and
// returns a normalised copy holding every declared field (nil when unset).
func (v *validator) section(section schema.Section, values map[string]any) map[string]any {
	fields := v.desc.Fields(section)
	out := make(map[string]any, len(fields))

	for _, key := range sortedKeys(values) {
		if _, declared := fields[key]; !declared {
			v.add(string(section)+"."+key, RuleUnknownField, "field is not declared for type %s", v.desc.Type)
		}
	}

	for _, name := range sortedKeys(fields) {
		path := string(section) + "." + name
		raw, present := values[name]
		if !present || raw == nil {
			if v.desc.IsMandatory(section, name) {
				v.add(path, RuleRequired, "field is required")
			}
			out[name] = nil
			continue
		}
		if norm, ok := v.field(path, name, fields[name], raw); ok {
			out[name] = norm
		}
	}
	return out
}

func (v *validator) field(path, name string, typ schema.FieldType, raw any) (any, bool) {
	c, _ := v.desc.Constraint(name)

	switch typ {
	case schema.TypeString:
		s, ok := raw.(string)
		if !ok {
			v.add(path, RuleType, "expected str, got %T", raw)
			return nil, false
		}
		if c.MaxLength != nil && utf8.RuneCountInString(s) > *c.MaxLength {
			v.add(path, RuleMaxLength, "length must be at most %d", *c.MaxLength)
		}
		v.enum(path, c.Enum, s)
		return s, true

	case schema.TypeInt:
		n, err := toInt(raw)
		if err != nil {
			v.add(path, RuleType, "expected int, got %v", raw)
			return nil, false
		}
		v.bounds(path, c, float64(n))
		v.enum(path, c.Enum, fmt.Sprint(n))
		return n, true

	case schema.TypeFloat:
		f, err := toFloat(raw)
		if err != nil {
			v.add(path, RuleType, "expected float, got %v", raw)
			return nil, false
		}
		v.bounds(path, c, f)
		v.enum(path, c.Enum, fmt.Sprint(f))
		return f, true

	case schema.TypeBool:
		b, err := toBool(raw)
		if err != nil {
			v.add(path, RuleType, "expected bool, got %v", raw)
			return nil, false
		}
		return b, true

	case schema.TypeDatetime:
		t, err := ParseTime(raw)
		if err != nil {
			v.add(path, RuleType, "expected datetime, got %v", raw)
			return nil, false
		}
		return FormatTime(t), true

	case schema.TypeListString:
		list, ok := asList(raw)
		if !ok {
			v.add(path, RuleType, "expected List[str], got %T", raw)
			return nil, false
		}
		out := make([]any, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				v.add(fmt.Sprintf("%s[%d]", path, i), RuleType, "expected str, got %T", item)
				continue
			}
			v.enum(fmt.Sprintf("%s[%d]", path, i), c.Enum, s)
			out = append(out, s)
		}
		return out, true

	case schema.TypeListDict:
		list, ok := asList(raw)
		if !ok {
			v.add(path, RuleType, "expected List[Dict], got %T", raw)
			return nil, false
		}
		out := make([]any, 0, len(list))
		for i, item := range list {
			itemPath := fmt.Sprintf("%s[%d]", path, i)
			obj, ok := item.(map[string]any)
			if !ok {
				v.add(itemPath, RuleType, "expected object, got %T", item)
				continue
			}
			out = append(out, v.item(itemPath, c.Items, obj))
		}
		return out, true
	}

	v.add(path, RuleType, "unsupported field type %s", typ)
	return nil, false
}

// item applies the per-item rules of a List[Dict] field. Keys without a
// type mapping pass through unchanged.
func (v *validator) item(path string, rules *schema.ItemConstraint, obj map[string]any) map[string]any {
	out := copyMap(obj)
	if rules == nil {
		return out
	}

	for _, key := range rules.RequiredFields {
		if val, ok := obj[key]; !ok || val == nil {
			v.add(path+"."+key, RuleItemRequired, "item field is required")
		}
	}

	for _, key := range sortedKeys(rules.TypeMappings) {
		val, ok := obj[key]
		if !ok || val == nil {
			continue
		}
		keyPath := path + "." + key
		switch rules.TypeMappings[key] {
		case schema.TypeString:
			s, isStr := val.(string)
			if !isStr {
				v.add(keyPath, RuleItemType, "expected str, got %T", val)
				continue
			}
			out[key] = s
		case schema.TypeInt:
			n, err := toInt(val)
			if err != nil {
				v.add(keyPath, RuleItemType, "expected int, got %v", val)
				continue
			}
			out[key] = n
		case schema.TypeFloat:
			f, err := toFloat(val)
			if err != nil {
				v.add(keyPath, RuleItemType, "expected float, got %v", val)
				continue
			}
			out[key] = f
		case schema.TypeBool:
			b, err := toBool(val)
			if err != nil {
				v.add(keyPath, RuleItemType, "expected bool, got %v", val)
				continue
			}
			out[key] = b
		case schema.TypeDatetime:
			t, err := ParseTime(val)
			if err != nil {
				v.add(keyPath, RuleItemType, "expected datetime, got %v", val)
				continue
			}
			out[key] = FormatTime(t)
		}
	}

	for _, key := range sortedKeys(rules.Enums) {
		val, ok := out[key]
		if !ok || val == nil {
			continue
		}
		if allowed := rules.Enums[key]; !slices.Contains(allowed, fmt.Sprint(val)) {
			v.add(path+"."+key, RuleItemEnum, "must be one of %v", allowed)
		}
	}
	return out
}

func (v *validator) bounds(path string, c schema.Constraint, n float64) {
	if c.Min != nil && n < *c.Min {
		v.add(path, RuleMin, "must be >= %v", *c.Min)
	}
	if c.Max != nil && n > *c.Max {
		v.add(path, RuleMax, "must be <= %v", *c.Max)
	}
}

func (v *validator) enum(path string, allowed []string, value string) {
	if len(allowed) > 0 && !slices.Contains(allowed, value) {
		v.add(path, RuleEnum, "must be one of %v", allowed)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
