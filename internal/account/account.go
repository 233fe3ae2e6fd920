package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/entity"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/session"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// Logger defines the logging interface used by the service.
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

// Service manages user accounts and chat logins.
//
// Thread Safety: all methods are safe for concurrent use.
type Service struct {
	store    entity.Store
	users    *entity.Factory
	sessions session.Store
	params   Params
	logger   Logger
	now      func() time.Time

	// registerMu makes the username uniqueness check atomic with the insert.
	registerMu sync.Mutex
	// userLocks guards read-modify-write of user documents. It is shared
	// with the garden manager.
	userLocks *entity.Locks
}

// NewService creates an account service. users is the user factory.
func NewService(store entity.Store, users *entity.Factory, sessions session.Store) *Service {
	return &Service{
		store:    store,
		users:    users,
		sessions: sessions,
		params:   DefaultParams,
		logger:   noopLogger{},
		now:      time.Now,

		userLocks: entity.NewLocks(),
	}
}

// SetUserLocks shares the per-user document locks with other writers of
// user entities.
func (s *Service) SetUserLocks(l *entity.Locks) {
	s.userLocks = l
}

// SetLogger sets the logger.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// Register creates an account with a hashed password.
func (s *Service) Register(ctx context.Context, username, password string) (*entity.Entity, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.ContainsAny(username, " \t\n") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	if len(password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, MinPasswordLength)
	}

	hash, err := HashPassword(password, s.params)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Create(entity.Values{Profile: map[string]any{
		"username": username,
		"password": hash,
	}})
	if err != nil {
		return nil, err
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	existing, err := s.findByUsername(ctx, username)
	if err != nil && !errors.Is(err, ErrInvalidCredentials) {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}
	if _, err := s.store.Save(ctx, entity.TypeUser, user); err != nil {
		return nil, err
	}

	s.logger.Info("account registered", "user_id", user.ID, "username", username)
	return Public(user), nil
}

// Authenticate checks a username and password. Unknown users and wrong
// passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*entity.Entity, error) {
	user, err := s.findByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	ok, err := VerifyPassword(password, user.ProfileString("password"))
	if err != nil {
		s.logger.Error("stored password hash unreadable", "user_id", user.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and opens a session for chatID. The account's
// telegram_id and last_login are updated.
func (s *Service) Login(ctx context.Context, chatID int64, username, password string) (*entity.Entity, error) {
	open, err := s.sessions.IsAuthenticated(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrAlreadyLoggedIn
	}

	authed, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	unlock := s.userLocks.Lock(authed.ID)
	defer unlock()

	user, err := s.store.Get(ctx, entity.TypeUser, authed.ID)
	if err != nil {
		return nil, err
	}
	updated, err := s.users.Update(user, entity.Values{
		Profile: map[string]any{"telegram_id": chatID},
		Data:    map[string]any{"last_login": entity.FormatTime(s.now())},
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, entity.TypeUser, user.ID, updated); err != nil {
		return nil, err
	}
	if _, err := s.sessions.Login(ctx, chatID, user.ID); err != nil {
		return nil, err
	}

	s.logger.Info("login", "user_id", user.ID, "chat_id", chatID)
	return Public(updated), nil
}

// Logout ends the session of chatID, or returns session.ErrNoSession.
func (s *Service) Logout(ctx context.Context, chatID int64) error {
	return s.sessions.Logout(ctx, chatID)
}

// CurrentUser returns the account chatID is logged in as.
func (s *Service) CurrentUser(ctx context.Context, chatID int64) (*entity.Entity, error) {
	userID, err := s.sessions.UserFor(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// GetUser returns an account without its password hash.
func (s *Service) GetUser(ctx context.Context, userID string) (*entity.Entity, error) {
	user, err := s.store.Get(ctx, entity.TypeUser, userID)
	if err != nil {
		return nil, err
	}
	return Public(user), nil
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	if len(next) < MinPasswordLength {
		return fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, MinPasswordLength)
	}

	unlock := s.userLocks.Lock(userID)
	defer unlock()

	user, err := s.store.Get(ctx, entity.TypeUser, userID)
	if err != nil {
		return err
	}
	if ok, _ := VerifyPassword(current, user.ProfileString("password")); !ok { //nolint:errcheck // unreadable hash counts as mismatch
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(next, s.params)
	if err != nil {
		return err
	}
	updated, err := s.users.Update(user, entity.Values{Profile: map[string]any{"password": hash}})
	if err != nil {
		return err
	}
	return s.store.Update(ctx, entity.TypeUser, userID, updated)
}

// Public returns a copy of user without the password hash.
func Public(user *entity.Entity) *entity.Entity {
	out := user.DeepCopy()
	delete(out.Profile, "password")
	return out
}

func (s *Service) findByUsername(ctx context.Context, username string) (*entity.Entity, error) {
	users, err := s.store.Query(ctx, entity.TypeUser, entity.Filter{
		Profile: map[string]any{"username": username},
	})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrInvalidCredentials
	}
	return users[0], nil
}
