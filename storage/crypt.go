package storage

import (
	"fmt"

	"github.com/parkgate-io/authcore/security"
)

// EncryptToken returns a copy of the token with its credential values
// encrypted for at-rest storage. Persistent backends call this before
// serializing a record; the plaintext values remain the lookup keys, so only
// the values inside the record body are transformed.
// If the encryptor is nil or disabled, the token is returned unchanged.
func EncryptToken(token *Token, encryptor *security.Encryptor) (*Token, error) {
	if token == nil {
		return nil, nil
	}
	if encryptor == nil || !encryptor.IsEnabled() {
		return token, nil
	}

	out := *token
	var err error
	if out.AccessToken, err = encryptor.Encrypt(token.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}
	if token.RefreshToken != "" {
		if out.RefreshToken, err = encryptor.Encrypt(token.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
	}
	return &out, nil
}

// DecryptToken reverses EncryptToken on a record loaded from storage.
// If the encryptor is nil or disabled, the token is returned unchanged.
func DecryptToken(token *Token, encryptor *security.Encryptor) (*Token, error) {
	if token == nil {
		return nil, nil
	}
	if encryptor == nil || !encryptor.IsEnabled() {
		return token, nil
	}

	out := *token
	var err error
	if out.AccessToken, err = encryptor.Decrypt(token.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if token.RefreshToken != "" {
		if out.RefreshToken, err = encryptor.Decrypt(token.RefreshToken); err != nil {
			return nil, fmt.Errorf("failed to decrypt refresh token: %w", err)
		}
	}
	return &out, nil
}

// EncryptUser returns a copy of the user with contact attributes encrypted
// for at-rest storage. Mail and mobile are PII; the username and name parts
// stay plaintext because they are needed for lookups and log correlation.
// If the encryptor is nil or disabled, the user is returned unchanged.
func EncryptUser(user *User, encryptor *security.Encryptor) (*User, error) {
	if user == nil {
		return nil, nil
	}
	if encryptor == nil || !encryptor.IsEnabled() {
		return user, nil
	}

	out := *user
	var err error
	if user.Mail != "" {
		if out.Mail, err = encryptor.Encrypt(user.Mail); err != nil {
			return nil, fmt.Errorf("failed to encrypt mail: %w", err)
		}
	}
	if user.Mobile != "" {
		if out.Mobile, err = encryptor.Encrypt(user.Mobile); err != nil {
			return nil, fmt.Errorf("failed to encrypt mobile: %w", err)
		}
	}
	return &out, nil
}

// DecryptUser reverses EncryptUser on a record loaded from storage.
// If the encryptor is nil or disabled, the user is returned unchanged.
func DecryptUser(user *User, encryptor *security.Encryptor) (*User, error) {
	if user == nil {
		return nil, nil
	}
	if encryptor == nil || !encryptor.IsEnabled() {
		return user, nil
	}

	out := *user
	var err error
	if user.Mail != "" {
		if out.Mail, err = encryptor.Decrypt(user.Mail); err != nil {
			return nil, fmt.Errorf("failed to decrypt mail: %w", err)
		}
	}
	if user.Mobile != "" {
		if out.Mobile, err = encryptor.Decrypt(user.Mobile); err != nil {
			return nil, fmt.Errorf("failed to decrypt mobile: %w", err)
		}
	}
	return &out, nil
}
