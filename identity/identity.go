// Package identity defines the authenticated-user contract between the
// authorization server core and the surrounding application. The core never
// runs a login flow itself: the transport authenticates the user by whatever
// means it chooses (session cookie, SSO, test fixture) and passes the
// resulting Identity into the grant negotiator.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/parkgate-io/authcore/storage"
)

// ErrAuthenticationFailed is returned by Authenticator implementations when
// the presented credentials do not resolve to a user.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Identity is the authenticated user as established by the transport.
type Identity struct {
	UserID   string
	Username string
}

// Authenticator resolves login credentials to an Identity. Implementations
// live outside the core; the handler only consumes the result.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*Identity, error)
}

// StoreAuthenticator is a minimal Authenticator backed by a UserStore. It
// resolves usernames only and performs no password verification, which makes
// it suitable for development setups and tests where the surrounding
// application has already authenticated the user.
type StoreAuthenticator struct {
	Users storage.UserStore
}

// Authenticate resolves a username to an Identity. The password argument is
// ignored; see the type comment.
func (a *StoreAuthenticator) Authenticate(ctx context.Context, username, _ string) (*Identity, error) {
	user, err := a.Users.GetUser(ctx, username)
	if err != nil {
		user, err = a.Users.GetUserByUsername(ctx, username)
	}
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	return &Identity{UserID: user.ID, Username: user.Username}, nil
}

// NewUser builds a user record with a freshly minted GUID. The caller is
// responsible for persisting it.
func NewUser(username, firstName, lastName, middleName, mail, mobile string) *storage.User {
	return &storage.User{
		ID:         uuid.NewString(),
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		MiddleName: middleName,
		Mail:       mail,
		Mobile:     mobile,
		CreatedAt:  time.Now(),
	}
}

// FromUser derives an Identity from a stored user record.
func FromUser(user *storage.User) *Identity {
	return &Identity{UserID: user.ID, Username: user.Username}
}
