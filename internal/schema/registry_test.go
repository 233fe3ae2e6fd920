package schema

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const sensorSchema = `
schemas:
  common_fields:
    profile:
      label: str
      floor: int
  entity:
    data:
      readings: List[Dict]
      tags: List[str]
  validations:
    mandatory_fields:
      profile: [label]
    type_constraints:
      floor:
        min: 0
        max: 10
      readings:
        item_constraints:
          required_fields: [at]
          type_mappings:
            at: datetime
            value: float
    initialization:
      readings: []
      floor: 1
      metadata:
        status: new
`

func TestParse_Valid(t *testing.T) {
	desc, err := Parse("sensor", []byte(sensorSchema))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if desc.Profile["floor"] != TypeInt {
		t.Errorf("Profile[floor] = %q, want int", desc.Profile["floor"])
	}
	if desc.Data["readings"] != TypeListDict {
		t.Errorf("Data[readings] = %q, want List[Dict]", desc.Data["readings"])
	}
	if !desc.IsMandatory(SectionProfile, "label") {
		t.Error("label should be mandatory")
	}
	if desc.IsMandatory(SectionProfile, "floor") {
		t.Error("floor should not be mandatory")
	}

	c, ok := desc.Constraint("floor")
	if !ok || c.Min == nil || *c.Min != 0 || c.Max == nil || *c.Max != 10 {
		t.Errorf("floor constraint = %+v, want min 0 max 10", c)
	}

	items, _ := desc.Constraint("readings")
	if items.Items == nil || items.Items.TypeMappings["at"] != TypeDatetime {
		t.Errorf("readings item constraints = %+v", items.Items)
	}

	if desc.Defaults[SectionProfile]["floor"] != 1 {
		t.Errorf("profile default floor = %v, want 1", desc.Defaults[SectionProfile]["floor"])
	}
	if _, ok := desc.Defaults[SectionData]["readings"]; !ok {
		t.Error("readings default should land in data")
	}
	if desc.Defaults[SectionMetadata]["status"] != "new" {
		t.Errorf("metadata default status = %v, want new", desc.Defaults[SectionMetadata]["status"])
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantMsg string
	}{
		{
			name:    "not yaml",
			src:     "schemas: [unterminated",
			wantMsg: "sensor",
		},
		{
			name:    "missing schemas root",
			src:     "other: {}",
			wantMsg: "missing top-level 'schemas'",
		},
		{
			name: "missing validations",
			src: `
schemas:
  common_fields:
    profile: {label: str}
`,
			wantMsg: "missing 'schemas.validations'",
		},
		{
			name: "missing profile fields",
			src: `
schemas:
  entity:
    data: {x: str}
  validations: {}
`,
			wantMsg: "common_fields.profile",
		},
		{
			name: "unsupported type",
			src: `
schemas:
  common_fields:
    profile: {label: string}
  validations: {}
`,
			wantMsg: `unsupported type "string"`,
		},
		{
			name: "mandatory field not declared",
			src: `
schemas:
  common_fields:
    profile: {label: str}
  validations:
    mandatory_fields:
      profile: [missing]
`,
			wantMsg: `"missing" is not a declared field`,
		},
		{
			name: "item constraints on scalar",
			src: `
schemas:
  common_fields:
    profile: {label: str}
  validations:
    type_constraints:
      label:
        item_constraints:
          required_fields: [a]
`,
			wantMsg: "item_constraints only apply",
		},
		{
			name: "min greater than max",
			src: `
schemas:
  common_fields:
    profile: {floor: int}
  validations:
    type_constraints:
      floor: {min: 5, max: 1}
`,
			wantMsg: "greater than max",
		},
		{
			name: "unknown initialization key",
			src: `
schemas:
  common_fields:
    profile: {label: str}
  validations:
    initialization:
      devices: []
`,
			wantMsg: `"devices" is not a declared field`,
		},
		{
			name: "duplicate field across sections",
			src: `
schemas:
  common_fields:
    profile: {label: str}
  entity:
    data: {label: str}
  validations: {}
`,
			wantMsg: "declared in both",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("sensor", []byte(tt.src))
			if !errors.Is(err, ErrSchema) {
				t.Fatalf("Parse() error = %v, want ErrSchema", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Parse() error = %q, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRegistry_LoadAndGet(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Get("sensor"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Get() before Load error = %v, want ErrUnknownType", err)
	}

	if err := r.Load("sensor", []byte(sensorSchema)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	desc, err := r.Get("sensor")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if desc.Type != "sensor" {
		t.Errorf("Type = %q, want sensor", desc.Type)
	}
}

func TestRegistry_ReloadReplaces(t *testing.T) {
	r := NewRegistry()
	if err := r.Load("sensor", []byte(sensorSchema)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	replacement := `
schemas:
  common_fields:
    profile: {code: str}
  validations: {}
`
	if err := r.Load("sensor", []byte(replacement)); err != nil {
		t.Fatalf("reload error = %v", err)
	}
	desc, _ := r.Get("sensor")
	if _, ok := desc.Profile["code"]; !ok {
		t.Error("reloaded descriptor should declare code")
	}
	if _, ok := desc.Profile["label"]; ok {
		t.Error("reloaded descriptor should not keep label")
	}
}

func TestRegistry_FailedLoadKeepsPrevious(t *testing.T) {
	r := NewRegistry()
	if err := r.Load("sensor", []byte(sensorSchema)); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := r.Load("sensor", []byte("nope: {}")); !errors.Is(err, ErrSchema) {
		t.Fatalf("Load() error = %v, want ErrSchema", err)
	}
	desc, err := r.Get("sensor")
	if err != nil || desc.Profile["label"] != TypeString {
		t.Error("previous descriptor should survive a failed reload")
	}
}

func TestRegistry_LoadBuiltin(t *testing.T) {
	r, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}

	types := r.Types()
	if len(types) != 2 || types[0] != "plant" || types[1] != "user" {
		t.Fatalf("Types() = %v, want [plant user]", types)
	}

	plant, _ := r.Get("plant")
	if !plant.IsMandatory(SectionProfile, "owner_id") {
		t.Error("plant.owner_id should be mandatory")
	}
	preset, _ := plant.Constraint("preset")
	if len(preset.Enum) != 3 {
		t.Errorf("preset enum = %v, want 3 values", preset.Enum)
	}
	m, _ := plant.Constraint("measurements")
	if m.Items == nil || len(m.Items.RequiredFields) != 3 {
		t.Errorf("measurements item constraints = %+v", m.Items)
	}

	user, _ := r.Get("user")
	if user.Data["last_login"] != TypeDatetime {
		t.Errorf("user.last_login type = %q, want datetime", user.Data["last_login"])
	}
}

func TestRegistry_LoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sensor.yaml"), []byte(sensorSchema), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0600); err != nil {
		t.Fatal(err)
	}

	r := NewRegistry()
	loaded, err := r.LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if len(loaded) != 1 || loaded[0] != "sensor" {
		t.Errorf("LoadDir() = %v, want [sensor]", loaded)
	}
}

func TestRegistry_LoadFileMissing(t *testing.T) {
	r := NewRegistry()
	if err := r.LoadFile("sensor", "/nonexistent/sensor.yaml"); !errors.Is(err, ErrSchema) {
		t.Errorf("LoadFile() error = %v, want ErrSchema", err)
	}
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r, err := NewDefaultRegistry()
	if err != nil {
		t.Fatalf("NewDefaultRegistry() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Get("plant"); err != nil {
				t.Errorf("Get() error = %v", err)
			}
			_ = r.Types()
		}()
	}
	wg.Wait()
}
