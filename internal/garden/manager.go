package garden

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/twin"
)

// DefaultServices are attached to every new garden.
var DefaultServices = []string{
	twin.ServicePlantManagement,
	twin.ServiceGardenHistory,
	twin.ServiceGardenStatus,
}

// Profile fields maintained by the manager.
const (
	fieldOwner  = "owner_id"
	fieldGarden = "garden_id"
)

// User data fields indexing a user's gardens and plants.
const (
	fieldOwnedGardens = "owned_gardens"
	fieldOwnedPlants  = "owned_plants"
)

// Logger defines the logging interface used by the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Twins is the subset of *twin.Registry used by the manager.
type Twins interface {
	CreateTwin(ctx context.Context, name, description string) (string, error)
	GetTwin(ctx context.Context, id string) (*twin.Twin, error)
	ListTwins(ctx context.Context) ([]*twin.Twin, error)
	DeleteTwin(ctx context.Context, id string) error
	AttachEntity(ctx context.Context, id, entityType, entityID string) error
	DetachEntity(ctx context.Context, id, entityType, entityID string) error
	FindTwinByEntity(ctx context.Context, entityType, entityID string) (*twin.Twin, error)
	AttachService(ctx context.Context, id, name string, config map[string]any) error
	InstantiateService(ctx context.Context, id, name string) (twin.Service, error)
}

// PlantLocker serialises writers of one plant document.
// *plantcare.Processor satisfies it.
type PlantLocker interface {
	LockPlant(plantID string) func()
}

// Manager runs the garden lifecycle: a garden is a twin grouping its
// owner's user entity and plant entities, with the default services
// attached.
//
// Thread Safety: all methods are safe for concurrent use.
type Manager struct {
	store  entity.Store
	plants *entity.Factory
	users  *entity.Factory
	twins  Twins
	locker PlantLocker
	logger Logger

	// userLocks guards read-modify-write of user documents. It is shared
	// with the account service.
	userLocks *entity.Locks
}

// NewManager creates a manager. plants and users are the factories of the
// respective entity types.
func NewManager(store entity.Store, plants, users *entity.Factory, twins Twins) *Manager {
	return &Manager{
		store:  store,
		plants: plants,
		users:  users,
		twins:  twins,
		logger: noopLogger{},

		userLocks: entity.NewLocks(),
	}
}

// SetLogger sets the logger.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// SetUserLocks shares the per-user document locks with other writers of
// user entities.
func (m *Manager) SetUserLocks(l *entity.Locks) {
	m.userLocks = l
}

// SetPlantLocker shares a per-plant lock with other writers.
func (m *Manager) SetPlantLocker(l PlantLocker) {
	m.locker = l
}

// CreateGarden creates a garden owned by ownerID.
func (m *Manager) CreateGarden(ctx context.Context, ownerID, name, description string) (*twin.Twin, error) {
	if _, err := m.store.Get(ctx, entity.TypeUser, ownerID); err != nil {
		return nil, fmt.Errorf("owner %s: %w", ownerID, err)
	}

	id, err := m.twins.CreateTwin(ctx, name, description)
	if err != nil {
		return nil, err
	}

	err = m.twins.AttachEntity(ctx, id, entity.TypeUser, ownerID)
	for _, svc := range DefaultServices {
		if err != nil {
			break
		}
		err = m.twins.AttachService(ctx, id, svc, nil)
	}
	if err == nil {
		err = m.editUserList(ctx, ownerID, fieldOwnedGardens, id, true)
	}
	if err != nil {
		if derr := m.twins.DeleteTwin(ctx, id); derr != nil {
			m.logger.Error("garden rollback failed", "garden_id", id, "error", derr)
		}
		return nil, err
	}

	m.logger.Info("garden created", "garden_id", id, "owner_id", ownerID, "name", name)
	return m.twins.GetTwin(ctx, id)
}

// Garden returns the garden, or ErrGardenNotFound.
func (m *Manager) Garden(ctx context.Context, id string) (*twin.Twin, error) {
	t, err := m.twins.GetTwin(ctx, id)
	if err != nil {
		if errors.Is(err, twin.ErrTwinNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrGardenNotFound, id)
		}
		return nil, err
	}
	return t, nil
}

// Gardens lists the gardens of ownerID, or every garden when ownerID is
// empty.
func (m *Manager) Gardens(ctx context.Context, ownerID string) ([]*twin.Twin, error) {
	all, err := m.twins.ListTwins(ctx)
	if err != nil {
		return nil, err
	}
	if ownerID == "" {
		return all, nil
	}
	out := make([]*twin.Twin, 0, len(all))
	for _, t := range all {
		if Owner(t) == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Owner returns the id of the user attached to a garden, or "".
func Owner(t *twin.Twin) string {
	if ids := t.EntityIDs(entity.TypeUser); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// Plants returns the plant entities of a garden, oldest first.
func (m *Manager) Plants(ctx context.Context, gardenID string) ([]*entity.Entity, error) {
	t, err := m.Garden(ctx, gardenID)
	if err != nil {
		return nil, err
	}
	return m.plantsOf(ctx, t)
}

func (m *Manager) plantsOf(ctx context.Context, t *twin.Twin) ([]*entity.Entity, error) {
	ids := t.EntityIDs(entity.TypePlant)
	if len(ids) == 0 {
		return []*entity.Entity{}, nil
	}
	return m.store.Query(ctx, entity.TypePlant, entity.Filter{IDs: ids})
}

// AddPlant creates a plant in a garden. The plant's owner is the garden's
// owner; a conflicting profile.owner_id is rejected.
func (m *Manager) AddPlant(ctx context.Context, gardenID string, profile map[string]any) (*entity.Entity, error) {
	t, err := m.Garden(ctx, gardenID)
	if err != nil {
		return nil, err
	}

	owner := Owner(t)
	p := entity.CopyMap(profile)
	if p == nil {
		p = map[string]any{}
	}
	if given, ok := p[fieldOwner].(string); ok && given != "" && owner != "" && given != owner {
		return nil, fmt.Errorf("%w: %s is not the owner of %s", ErrOwnerMismatch, given, gardenID)
	}
	if owner != "" {
		p[fieldOwner] = owner
	}
	p[fieldGarden] = t.ID

	plant, err := m.plants.Create(entity.Values{Profile: p})
	if err != nil {
		return nil, err
	}
	if _, err := m.store.Save(ctx, entity.TypePlant, plant); err != nil {
		return nil, err
	}

	if err := m.twins.AttachEntity(ctx, t.ID, entity.TypePlant, plant.ID); err != nil {
		m.rollbackPlant(ctx, plant.ID)
		return nil, err
	}
	if owner != "" {
		if err := m.editUserList(ctx, owner, fieldOwnedPlants, plant.ID, true); err != nil {
			if derr := m.twins.DetachEntity(ctx, t.ID, entity.TypePlant, plant.ID); derr != nil {
				m.logger.Error("plant rollback failed", "plant_id", plant.ID, "error", derr)
			}
			m.rollbackPlant(ctx, plant.ID)
			return nil, err
		}
	}

	m.logger.Info("plant added", "plant_id", plant.ID, "garden_id", t.ID)
	return plant, nil
}

// Plant returns a plant entity.
func (m *Manager) Plant(ctx context.Context, plantID string) (*entity.Entity, error) {
	return m.store.Get(ctx, entity.TypePlant, plantID)
}

// UpdatePlant merges a profile patch into a plant. Ownership and garden
// membership change only through AddPlant and MovePlant.
func (m *Manager) UpdatePlant(ctx context.Context, plantID string, patch map[string]any) (*entity.Entity, error) {
	for _, k := range []string{fieldOwner, fieldGarden} {
		if _, ok := patch[k]; ok {
			return nil, fmt.Errorf("%w: %s", ErrImmutableField, k)
		}
	}

	defer m.lockPlant(plantID)()
	return m.updatePlantLocked(ctx, plantID, patch)
}

func (m *Manager) updatePlantLocked(ctx context.Context, plantID string, patch map[string]any) (*entity.Entity, error) {
	current, err := m.store.Get(ctx, entity.TypePlant, plantID)
	if err != nil {
		return nil, err
	}
	updated, err := m.plants.Update(current, entity.Values{Profile: patch})
	if err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, entity.TypePlant, plantID, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// MovePlant moves a plant to another garden of the same owner. Moving a
// plant to the garden it is in is a no-op.
func (m *Manager) MovePlant(ctx context.Context, plantID, toGardenID string) error {
	dest, err := m.Garden(ctx, toGardenID)
	if err != nil {
		return err
	}

	defer m.lockPlant(plantID)()
	plant, err := m.store.Get(ctx, entity.TypePlant, plantID)
	if err != nil {
		return err
	}
	if owner := Owner(dest); owner != "" && owner != plant.ProfileString(fieldOwner) {
		return fmt.Errorf("%w: %s cannot move to %s", ErrOwnerMismatch, plantID, toGardenID)
	}

	current, err := m.twins.FindTwinByEntity(ctx, entity.TypePlant, plantID)
	switch {
	case err == nil && current.ID == dest.ID:
		return nil
	case err == nil:
		if err := m.twins.DetachEntity(ctx, current.ID, entity.TypePlant, plantID); err != nil {
			return err
		}
	case !errors.Is(err, twin.ErrTwinNotFound):
		return err
	}

	if err := m.twins.AttachEntity(ctx, dest.ID, entity.TypePlant, plantID); err != nil {
		return err
	}
	if _, err := m.updatePlantLocked(ctx, plantID, map[string]any{fieldGarden: dest.ID}); err != nil {
		return err
	}
	m.logger.Info("plant moved", "plant_id", plantID, "garden_id", dest.ID)
	return nil
}

// RemovePlant detaches a plant from its gardens, deletes it and drops it
// from its owner's plant list.
func (m *Manager) RemovePlant(ctx context.Context, plantID string) error {
	defer m.lockPlant(plantID)()

	plant, err := m.store.Get(ctx, entity.TypePlant, plantID)
	if err != nil {
		return err
	}
	if err := m.detachEverywhere(ctx, plantID); err != nil {
		return err
	}
	if err := m.store.Delete(ctx, entity.TypePlant, plantID); err != nil {
		return err
	}
	if owner := plant.ProfileString(fieldOwner); owner != "" {
		if err := m.editUserList(ctx, owner, fieldOwnedPlants, plantID, false); err != nil && !errors.Is(err, entity.ErrNotFound) {
			return err
		}
	}
	m.logger.Info("plant removed", "plant_id", plantID)
	return nil
}

// DeleteGarden deletes a garden. With cascade its plants are removed too;
// otherwise they are kept with no garden.
func (m *Manager) DeleteGarden(ctx context.Context, gardenID string, cascade bool) error {
	t, err := m.Garden(ctx, gardenID)
	if err != nil {
		return err
	}

	for _, plantID := range t.EntityIDs(entity.TypePlant) {
		if cascade {
			err = m.RemovePlant(ctx, plantID)
		} else {
			err = m.orphan(ctx, plantID)
		}
		if err != nil && !errors.Is(err, entity.ErrNotFound) {
			return err
		}
	}

	if err := m.twins.DeleteTwin(ctx, t.ID); err != nil {
		return err
	}
	if owner := Owner(t); owner != "" {
		if err := m.editUserList(ctx, owner, fieldOwnedGardens, t.ID, false); err != nil && !errors.Is(err, entity.ErrNotFound) {
			return err
		}
	}
	m.logger.Info("garden deleted", "garden_id", t.ID, "cascade", cascade)
	return nil
}

func (m *Manager) orphan(ctx context.Context, plantID string) error {
	defer m.lockPlant(plantID)()
	_, err := m.updatePlantLocked(ctx, plantID, map[string]any{fieldGarden: nil})
	return err
}

// History runs the garden's GardenHistoryService.
func (m *Manager) History(ctx context.Context, gardenID string, r Range, plantName string) (*History, error) {
	res, err := m.run(ctx, gardenID, twin.ServiceGardenHistory, map[string]string{
		ParamRange: string(r),
		ParamPlant: plantName,
	})
	if err != nil {
		return nil, err
	}
	h, ok := res.(*History)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", twin.ServiceGardenHistory, res)
	}
	return h, nil
}

// Status runs the garden's GardenStatusService.
func (m *Manager) Status(ctx context.Context, gardenID, plantName string) (*Status, error) {
	res, err := m.run(ctx, gardenID, twin.ServiceGardenStatus, map[string]string{ParamPlant: plantName})
	if err != nil {
		return nil, err
	}
	st, ok := res.(*Status)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", twin.ServiceGardenStatus, res)
	}
	return st, nil
}

func (m *Manager) run(ctx context.Context, gardenID, service string, params map[string]string) (any, error) {
	t, err := m.Garden(ctx, gardenID)
	if err != nil {
		return nil, err
	}
	svc, err := m.twins.InstantiateService(ctx, t.ID, service)
	if err != nil {
		return nil, err
	}
	plants, err := m.plantsOf(ctx, t)
	if err != nil {
		return nil, err
	}
	return svc.Execute(ctx, twin.Request{Twin: t, Entities: plants, Params: params})
}

func (m *Manager) detachEverywhere(ctx context.Context, plantID string) error {
	for {
		t, err := m.twins.FindTwinByEntity(ctx, entity.TypePlant, plantID)
		if errors.Is(err, twin.ErrTwinNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := m.twins.DetachEntity(ctx, t.ID, entity.TypePlant, plantID); err != nil {
			return err
		}
	}
}

func (m *Manager) rollbackPlant(ctx context.Context, plantID string) {
	if err := m.store.Delete(ctx, entity.TypePlant, plantID); err != nil {
		m.logger.Error("plant rollback failed", "plant_id", plantID, "error", err)
	}
}

// editUserList adds or removes value in a user's string-list data field.
func (m *Manager) editUserList(ctx context.Context, userID, field, value string, add bool) error {
	unlock := m.userLocks.Lock(userID)
	defer unlock()

	user, err := m.store.Get(ctx, entity.TypeUser, userID)
	if err != nil {
		return err
	}
	list := user.DataStrings(field)
	has := slices.Contains(list, value)
	switch {
	case add && has, !add && !has:
		return nil
	case add:
		list = append(list, value)
	default:
		list = slices.DeleteFunc(list, func(s string) bool { return s == value })
	}

	items := make([]any, len(list))
	for i, s := range list {
		items[i] = s
	}
	updated, err := m.users.Update(user, entity.Values{Data: map[string]any{field: items}})
	if err != nil {
		return err
	}
	return m.store.Update(ctx, entity.TypeUser, userID, updated)
}

func (m *Manager) lockPlant(plantID string) func() {
	if m.locker == nil {
		return func() {}
	}
	return m.locker.LockPlant(plantID)
}
