package entity

import (
	"context"
	"errors"
	"testing"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/database"
	_ "github.com/EnricoMattana/IoT-SmartPlant/migrations"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func TestSQLiteStore_SaveGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	f := newTestFactory(t, TypePlant)

	e, err := f.Create(Values{Profile: map[string]any{"name": "Basil", "owner_id": "u1"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	e, err = f.AppendMeasurements(e, []Measurement{{Type: KindHumidity, Value: 31.5, Timestamp: testNow}})
	if err != nil {
		t.Fatalf("AppendMeasurements() error = %v", err)
	}

	id, err := store.Save(ctx, TypePlant, e)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if id != e.ID {
		t.Errorf("Save() id = %q, want %q", id, e.ID)
	}

	got, err := store.Get(ctx, TypePlant, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ProfileString("name") != "Basil" || got.ProfileString("preset") != "normal" {
		t.Errorf("Get() profile = %+v", got.Profile)
	}
	ms := got.Measurements()
	if len(ms) != 1 || ms[0].Value != 31.5 || !ms[0].Timestamp.Equal(testNow) {
		t.Errorf("Get() measurements = %+v", ms)
	}
	if !got.CreatedAt().Equal(testNow) {
		t.Errorf("CreatedAt() = %v, want %v", got.CreatedAt(), testNow)
	}

	// The stored document still validates after the round trip.
	if err := f.Validate(got); err != nil {
		t.Errorf("Validate() after round trip error = %v", err)
	}
}

func TestSQLiteStore_SaveDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := &Entity{ID: "p1", Profile: map[string]any{}, Data: map[string]any{}, Metadata: map[string]any{}}

	if _, err := store.Save(ctx, TypePlant, e); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Save(ctx, TypePlant, e); !errors.Is(err, ErrExists) {
		t.Errorf("Save() duplicate error = %v, want ErrExists", err)
	}
}

func TestSQLiteStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := store.Get(ctx, TypePlant, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := store.Update(ctx, TypePlant, "missing", &Entity{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, TypePlant, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_GetChecksType(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := &Entity{ID: "u1", Profile: map[string]any{"username": "ada"}}

	if _, err := store.Save(ctx, TypeUser, e); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := store.Get(ctx, TypePlant, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() with wrong type error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	f := newTestFactory(t, TypePlant)

	e, err := f.Create(Values{Profile: map[string]any{"name": "Basil", "owner_id": "u1"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Save(ctx, TypePlant, e); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	updated, err := f.Update(e, Values{Profile: map[string]any{"location": "Turin"}})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := store.Update(ctx, TypePlant, e.ID, updated); err != nil {
		t.Fatalf("store.Update() error = %v", err)
	}

	got, err := store.Get(ctx, TypePlant, e.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ProfileString("location") != "Turin" {
		t.Errorf("location = %q, want Turin", got.ProfileString("location"))
	}

	if err := store.Delete(ctx, TypePlant, e.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, TypePlant, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_Query(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seed := []*Entity{
		{ID: "p1", Profile: map[string]any{"name": "Basil", "owner_id": "u1", "outdoor": true}},
		{ID: "p2", Profile: map[string]any{"name": "Mint", "owner_id": "u1", "outdoor": false}},
		{ID: "p3", Profile: map[string]any{"name": "Fern", "owner_id": "u2", "outdoor": true}},
	}
	for _, e := range seed {
		if _, err := store.Save(ctx, TypePlant, e); err != nil {
			t.Fatalf("Save(%s) error = %v", e.ID, err)
		}
	}
	if _, err := store.Save(ctx, TypeUser, &Entity{ID: "u1", Profile: map[string]any{"owner_id": "u1"}}); err != nil {
		t.Fatalf("Save(user) error = %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{name: "all plants", filter: Filter{}, want: []string{"p1", "p2", "p3"}},
		{name: "by owner", filter: Filter{Profile: map[string]any{"owner_id": "u1"}}, want: []string{"p1", "p2"}},
		{name: "by bool", filter: Filter{Profile: map[string]any{"outdoor": true}}, want: []string{"p1", "p3"}},
		{
			name:   "owner and bool",
			filter: Filter{Profile: map[string]any{"owner_id": "u1", "outdoor": false}},
			want:   []string{"p2"},
		},
		{name: "by ids", filter: Filter{IDs: []string{"p3", "p1"}}, want: []string{"p1", "p3"}},
		{name: "no match", filter: Filter{Profile: map[string]any{"owner_id": "nobody"}}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Query(ctx, TypePlant, tt.filter)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			ids := make([]string, 0, len(got))
			for _, e := range got {
				ids = append(ids, e.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("Query() = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("Query()[%d] = %q, want %q", i, ids[i], tt.want[i])
				}
			}
		})
	}
}

func TestSQLiteStore_WholeNumbersDecodeAsInt(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	e := &Entity{ID: "u1", Profile: map[string]any{"telegram_id": int64(123456789)}}

	if _, err := store.Save(ctx, TypeUser, e); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := store.Get(ctx, TypeUser, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if id, ok := got.ProfileInt("telegram_id"); !ok || id != 123456789 {
		t.Errorf("ProfileInt() = %d, %v; want 123456789, true", id, ok)
	}
}
