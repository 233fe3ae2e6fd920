package garden

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/config"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/database"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
	_ "github.com/EnricoMattana/IoT-SmartPlant/migrations"
)

type fixture struct {
	store   entity.Store
	twins   *twin.Registry
	manager *Manager
	ownerID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	catalog := twin.NewCatalog()
	if err := plantcare.RegisterServices(catalog, plantcare.ServiceDeps{}); err != nil {
		t.Fatalf("plantcare.RegisterServices() error = %v", err)
	}
	if err := RegisterServices(catalog, func() time.Time { return testNow }); err != nil {
		t.Fatalf("RegisterServices() error = %v", err)
	}

	f := &fixture{
		store: entity.NewSQLiteStore(db.DB),
		twins: twin.NewRegistry(twin.NewSQLiteRepository(db.DB), catalog),
	}
	plants, users := testFactories(t)
	f.manager = NewManager(f.store, plants, users, f.twins)
	f.ownerID = f.addUser(t, "ann")
	return f
}

func (f *fixture) addUser(t *testing.T, username string) string {
	t.Helper()
	_, users := testFactories(t)
	u, err := users.Create(entity.Values{Profile: map[string]any{"username": username, "password": "hash"}})
	if err != nil {
		t.Fatalf("Create(user) error = %v", err)
	}
	id, err := f.store.Save(context.Background(), entity.TypeUser, u)
	if err != nil {
		t.Fatalf("Save(user) error = %v", err)
	}
	return id
}

func (f *fixture) user(t *testing.T, id string) *entity.Entity {
	t.Helper()
	u, err := f.store.Get(context.Background(), entity.TypeUser, id)
	if err != nil {
		t.Fatalf("Get(user) error = %v", err)
	}
	return u
}

func (f *fixture) garden(t *testing.T, name string) *twin.Twin {
	t.Helper()
	g, err := f.manager.CreateGarden(context.Background(), f.ownerID, name, "")
	if err != nil {
		t.Fatalf("CreateGarden() error = %v", err)
	}
	return g
}

func (f *fixture) plant(t *testing.T, gardenID, name string) *entity.Entity {
	t.Helper()
	p, err := f.manager.AddPlant(context.Background(), gardenID, map[string]any{"name": name})
	if err != nil {
		t.Fatalf("AddPlant() error = %v", err)
	}
	return p
}

func TestManager_CreateGarden(t *testing.T) {
	f := newFixture(t)
	g := f.garden(t, "Balcony")

	for _, svc := range DefaultServices {
		if _, ok := g.Service(svc); !ok {
			t.Errorf("service %s not attached", svc)
		}
	}
	if Owner(g) != f.ownerID {
		t.Errorf("Owner() = %q, want %q", Owner(g), f.ownerID)
	}
	if got := f.user(t, f.ownerID).DataStrings("owned_gardens"); !slices.Equal(got, []string{g.ID}) {
		t.Errorf("owned_gardens = %v, want [%s]", got, g.ID)
	}

	if _, err := f.manager.CreateGarden(context.Background(), "nobody", "X", ""); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("CreateGarden(unknown owner) error = %v, want ErrNotFound", err)
	}
	if _, err := f.manager.CreateGarden(context.Background(), f.ownerID, "  ", ""); !errors.Is(err, twin.ErrInvalidTwin) {
		t.Errorf("CreateGarden(blank) error = %v, want ErrInvalidTwin", err)
	}
}

func TestManager_Gardens(t *testing.T) {
	f := newFixture(t)
	f.garden(t, "Balcony")
	other := f.addUser(t, "bob")
	if _, err := f.manager.CreateGarden(context.Background(), other, "Roof", ""); err != nil {
		t.Fatalf("CreateGarden() error = %v", err)
	}

	mine, err := f.manager.Gardens(context.Background(), f.ownerID)
	if err != nil {
		t.Fatalf("Gardens() error = %v", err)
	}
	if len(mine) != 1 || mine[0].Name != "Balcony" {
		t.Errorf("Gardens(owner) = %v", mine)
	}
	all, _ := f.manager.Gardens(context.Background(), "")
	if len(all) != 2 {
		t.Errorf("Gardens(\"\") returned %d, want 2", len(all))
	}
}

func TestManager_AddPlant(t *testing.T) {
	f := newFixture(t)
	g := f.garden(t, "Balcony")
	p := f.plant(t, g.ID, "Basil")

	if p.ProfileString("owner_id") != f.ownerID || p.ProfileString("garden_id") != g.ID {
		t.Errorf("profile = %v", p.Profile)
	}
	owner, err := f.twins.FindTwinByEntity(context.Background(), entity.TypePlant, p.ID)
	if err != nil || owner.ID != g.ID {
		t.Errorf("FindTwinByEntity() = %v, %v", owner, err)
	}
	if got := f.user(t, f.ownerID).DataStrings("owned_plants"); !slices.Equal(got, []string{p.ID}) {
		t.Errorf("owned_plants = %v", got)
	}

	_, err = f.manager.AddPlant(context.Background(), g.ID, map[string]any{"name": "Mint", "owner_id": "someone-else"})
	if !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("AddPlant(foreign owner) error = %v, want ErrOwnerMismatch", err)
	}

	var verr *entity.ValidationError
	if _, err := f.manager.AddPlant(context.Background(), g.ID, map[string]any{"preset": "cactus"}); !errors.As(err, &verr) {
		t.Errorf("AddPlant(invalid) error = %v, want ValidationError", err)
	}
	if _, err := f.manager.AddPlant(context.Background(), "missing", map[string]any{"name": "X"}); !errors.Is(err, ErrGardenNotFound) {
		t.Errorf("AddPlant(no garden) error = %v, want ErrGardenNotFound", err)
	}

	plants, _ := f.manager.Plants(context.Background(), g.ID)
	if len(plants) != 1 {
		t.Errorf("garden has %d plants after rejected adds, want 1", len(plants))
	}
}

func TestManager_UpdatePlant(t *testing.T) {
	f := newFixture(t)
	g := f.garden(t, "Balcony")
	p := f.plant(t, g.ID, "Basil")
	ctx := context.Background()

	updated, err := f.manager.UpdatePlant(ctx, p.ID, map[string]any{"preset": "fragile", "auto_watering": true})
	if err != nil {
		t.Fatalf("UpdatePlant() error = %v", err)
	}
	if updated.ProfileString("preset") != "fragile" || !updated.ProfileBool("auto_watering") {
		t.Errorf("profile = %v", updated.Profile)
	}
	stored, _ := f.manager.Plant(ctx, p.ID)
	if stored.ProfileString("preset") != "fragile" {
		t.Error("update not persisted")
	}

	if _, err := f.manager.UpdatePlant(ctx, p.ID, map[string]any{"garden_id": "x"}); !errors.Is(err, ErrImmutableField) {
		t.Errorf("UpdatePlant(garden_id) error = %v, want ErrImmutableField", err)
	}
}

func TestManager_MovePlant(t *testing.T) {
	f := newFixture(t)
	from := f.garden(t, "Balcony")
	to := f.garden(t, "Roof")
	p := f.plant(t, from.ID, "Basil")
	ctx := context.Background()

	if err := f.manager.MovePlant(ctx, p.ID, to.ID); err != nil {
		t.Fatalf("MovePlant() error = %v", err)
	}
	if err := f.manager.MovePlant(ctx, p.ID, to.ID); err != nil {
		t.Fatalf("MovePlant() repeat error = %v", err)
	}

	src, _ := f.manager.Garden(ctx, from.ID)
	dst, _ := f.manager.Garden(ctx, to.ID)
	if len(src.EntityIDs(entity.TypePlant)) != 0 || !slices.Equal(dst.EntityIDs(entity.TypePlant), []string{p.ID}) {
		t.Errorf("membership after move: src=%v dst=%v", src.Entities, dst.Entities)
	}
	stored, _ := f.manager.Plant(ctx, p.ID)
	if stored.ProfileString("garden_id") != to.ID {
		t.Errorf("garden_id = %q, want %q", stored.ProfileString("garden_id"), to.ID)
	}

	other := f.addUser(t, "bob")
	foreign, err := f.manager.CreateGarden(ctx, other, "Bob's", "")
	if err != nil {
		t.Fatalf("CreateGarden() error = %v", err)
	}
	if err := f.manager.MovePlant(ctx, p.ID, foreign.ID); !errors.Is(err, ErrOwnerMismatch) {
		t.Errorf("MovePlant(foreign) error = %v, want ErrOwnerMismatch", err)
	}
}

func TestManager_RemovePlant(t *testing.T) {
	f := newFixture(t)
	g := f.garden(t, "Balcony")
	p := f.plant(t, g.ID, "Basil")
	ctx := context.Background()

	if err := f.manager.RemovePlant(ctx, p.ID); err != nil {
		t.Fatalf("RemovePlant() error = %v", err)
	}
	if _, err := f.manager.Plant(ctx, p.ID); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("Plant() after remove error = %v, want ErrNotFound", err)
	}
	if _, err := f.twins.FindTwinByEntity(ctx, entity.TypePlant, p.ID); !errors.Is(err, twin.ErrTwinNotFound) {
		t.Errorf("plant still attached: %v", err)
	}
	if got := f.user(t, f.ownerID).DataStrings("owned_plants"); len(got) != 0 {
		t.Errorf("owned_plants = %v, want empty", got)
	}
	if err := f.manager.RemovePlant(ctx, p.ID); !errors.Is(err, entity.ErrNotFound) {
		t.Errorf("RemovePlant() twice error = %v, want ErrNotFound", err)
	}
}

func TestManager_DeleteGarden(t *testing.T) {
	ctx := context.Background()

	t.Run("cascade", func(t *testing.T) {
		f := newFixture(t)
		g := f.garden(t, "Balcony")
		p := f.plant(t, g.ID, "Basil")

		if err := f.manager.DeleteGarden(ctx, g.ID, true); err != nil {
			t.Fatalf("DeleteGarden() error = %v", err)
		}
		if _, err := f.manager.Plant(ctx, p.ID); !errors.Is(err, entity.ErrNotFound) {
			t.Errorf("plant survived cascade: %v", err)
		}
		if _, err := f.manager.Garden(ctx, g.ID); !errors.Is(err, ErrGardenNotFound) {
			t.Errorf("Garden() error = %v, want ErrGardenNotFound", err)
		}
		u := f.user(t, f.ownerID)
		if len(u.DataStrings("owned_gardens")) != 0 || len(u.DataStrings("owned_plants")) != 0 {
			t.Errorf("owner lists not cleared: %v", u.Data)
		}
	})

	t.Run("keep plants", func(t *testing.T) {
		f := newFixture(t)
		g := f.garden(t, "Balcony")
		p := f.plant(t, g.ID, "Basil")

		if err := f.manager.DeleteGarden(ctx, g.ID, false); err != nil {
			t.Fatalf("DeleteGarden() error = %v", err)
		}
		stored, err := f.manager.Plant(ctx, p.ID)
		if err != nil {
			t.Fatalf("Plant() error = %v", err)
		}
		if stored.ProfileString("garden_id") != "" {
			t.Errorf("garden_id = %q, want cleared", stored.ProfileString("garden_id"))
		}
	})
}

func TestManager_HistoryAndStatus(t *testing.T) {
	f := newFixture(t)
	g := f.garden(t, "Balcony")
	p := f.plant(t, g.ID, "Basil")
	f.plant(t, g.ID, "Mint")
	ctx := context.Background()

	plants, _ := testFactories(t)
	withHistory, err := plants.AppendMeasurements(p, []entity.Measurement{
		m(entity.KindHumidity, 30, time.Hour),
		m(entity.KindHumidity, 50, 30*time.Minute),
	})
	if err != nil {
		t.Fatalf("AppendMeasurements() error = %v", err)
	}
	if err := f.store.Update(ctx, entity.TypePlant, p.ID, withHistory); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	h, err := f.manager.History(ctx, g.ID, RangeDay, "basil")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(h.Plants) != 1 || h.Plants[0].Stats[entity.KindHumidity].Mean != 40 {
		t.Errorf("History() = %+v", h)
	}

	if _, err := f.manager.History(ctx, g.ID, "decade", ""); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("History(bad range) error = %v, want ErrInvalidRange", err)
	}

	st, err := f.manager.Status(ctx, g.ID, "")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Plants) != 2 || st.Plants[0].Humidity == nil || st.Plants[0].Humidity.Value != 50 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestManager_StatusOfEmptyGarden(t *testing.T) {
	f := newFixture(t)
	g := f.garden(t, "Empty")

	st, err := f.manager.Status(context.Background(), g.ID, "")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(st.Plants) != 0 {
		t.Errorf("Status() = %+v, want no plants", st)
	}

	if _, err := f.manager.Status(context.Background(), g.ID, "Basil"); !errors.Is(err, ErrPlantNotFound) {
		t.Errorf("Status(unknown plant) error = %v, want ErrPlantNotFound", err)
	}
}

func TestManager_StatusWithoutService(t *testing.T) {
	f := newFixture(t)
	g := f.garden(t, "Balcony")
	if err := f.twins.DetachService(context.Background(), g.ID, twin.ServiceGardenStatus); err != nil {
		t.Fatalf("DetachService() error = %v", err)
	}
	if _, err := f.manager.Status(context.Background(), g.ID, ""); !errors.Is(err, twin.ErrServiceNotFound) {
		t.Errorf("Status() error = %v, want ErrServiceNotFound", err)
	}
}

func TestManager_SharedUserLocks(t *testing.T) {
	f := newFixture(t)
	locks := entity.NewLocks()
	f.manager.SetUserLocks(locks)

	unlock := locks.Lock(f.ownerID)
	done := make(chan error, 1)
	go func() {
		_, err := f.manager.CreateGarden(context.Background(), f.ownerID, "Balcony", "")
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("CreateGarden() finished while the owner document was locked (err = %v)", err)
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	if err := <-done; err != nil {
		t.Fatalf("CreateGarden() error = %v", err)
	}
	if got := f.user(t, f.ownerID).DataStrings("owned_gardens"); len(got) != 1 {
		t.Errorf("owned_gardens = %v, want one garden", got)
	}
}
