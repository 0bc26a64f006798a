package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/qhse-systems/qhse-outbox/internal/config"
)

// ErrInvalidCredentials is returned by UserStore.Authenticate for an unknown
// username or a wrong password - the two are never distinguished in the
// response, to avoid leaking which usernames exist.
var ErrInvalidCredentials = errors.New("invalid credentials")

// staticUser is a hashed row of the login table.
type staticUser struct {
	role         string
	passwordHash []byte
}

// UserStore holds the service's static role-based login table: one account
// per QHSE role (quality, procurement, auditor, admin), matching the
// source system's built-in demo accounts. Passwords are hashed at
// construction time so no plaintext password is ever compared or retained.
type UserStore struct {
	users map[string]staticUser
}

// defaultStaticUsers is the built-in table: username == password == role,
// exactly as the source system's STATIC_USERS demo table defines it.
func defaultStaticUsers() []config.StaticUser {
	roles := []string{"quality", "procurement", "auditor", "admin"}
	users := make([]config.StaticUser, 0, len(roles))

	for _, role := range roles {
		users = append(users, config.StaticUser{Username: role, Password: role, Role: role})
	}

	return users
}

// NewUserStore builds a UserStore from the built-in table, with any entries
// in overrides replacing built-in entries of the same username.
func NewUserStore(overrides []config.StaticUser) (*UserStore, error) {
	merged := map[string]config.StaticUser{}

	for _, u := range defaultStaticUsers() {
		merged[u.Username] = u
	}

	for _, u := range overrides {
		merged[u.Username] = u
	}

	store := &UserStore{users: make(map[string]staticUser, len(merged))}

	for username, u := range merged {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}

		store.users[username] = staticUser{role: u.Role, passwordHash: hash}
	}

	return store, nil
}

// Authenticate verifies username/password against the login table and
// returns the matching role. A dummy bcrypt comparison runs for unknown
// usernames to keep the timing profile of "unknown user" and "wrong
// password" indistinguishable.
func (s *UserStore) Authenticate(username, password string) (role string, err error) {
	u, ok := s.users[username]
	if !ok {
		performDummyComparison(password)

		return "", ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	return u.role, nil
}

// dummyHash is a fixed bcrypt hash used only to burn comparable CPU time when
// the username doesn't exist, so failed logins take the same time whether or
// not the username is real.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.DefaultCost) //nolint:gochecknoglobals

func performDummyComparison(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
