package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/parkgate-io/authcore/storage"
)

// userJSON is the stored representation of a user record. Mail and mobile
// are encrypted at rest when an encryptor is configured.
type userJSON struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	MiddleName string `json:"middle_name,omitempty"`
	Mail       string `json:"mail,omitempty"`
	Mobile     string `json:"mobile,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

func toUserJSON(user *storage.User) *userJSON {
	return &userJSON{
		ID:         user.ID,
		Username:   user.Username,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		MiddleName: user.MiddleName,
		Mail:       user.Mail,
		Mobile:     user.Mobile,
		CreatedAt:  user.CreatedAt.Unix(),
	}
}

func fromUserJSON(j *userJSON) *storage.User {
	if j == nil {
		return nil
	}
	return &storage.User{
		ID:         j.ID,
		Username:   j.Username,
		FirstName:  j.FirstName,
		LastName:   j.LastName,
		MiddleName: j.MiddleName,
		Mail:       j.Mail,
		Mobile:     j.Mobile,
		CreatedAt:  time.Unix(j.CreatedAt, 0),
	}
}

// ============================================================
// UserStore Implementation
// ============================================================

// SaveUser saves a user record and indexes it by username
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.ID == "" || user.Username == "" {
		return fmt.Errorf("invalid user")
	}

	toStore, err := storage.EncryptUser(user, s.getEncryptor())
	if err != nil {
		return err
	}

	data, err := json.Marshal(toUserJSON(toStore))
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	key := s.userKey(user.ID)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return wrapUnavailable("save user", err)
	}

	nameKey := s.usernameKey(user.Username)
	if err := s.client.Do(ctx, s.client.B().Set().Key(nameKey).Value(user.ID).Build()).Error(); err != nil {
		return wrapUnavailable("save username index", err)
	}

	s.logger.Debug("Saved user", "user_id", user.ID, "username", user.Username)
	return nil
}

// GetUser retrieves a user by ID
func (s *Store) GetUser(ctx context.Context, userID string) (*storage.User, error) {
	key := s.userKey(userID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, userID)
		}
		return nil, wrapUnavailable("get user", err)
	}

	var j userJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return storage.DecryptUser(fromUserJSON(&j), s.getEncryptor())
}

// GetUserByUsername retrieves a user by unique username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	nameKey := s.usernameKey(username)

	userID, err := s.client.Do(ctx, s.client.B().Get().Key(nameKey).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, username)
		}
		return nil, wrapUnavailable("get username index", err)
	}

	return s.GetUser(ctx, userID)
}
