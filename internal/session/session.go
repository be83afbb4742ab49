// Package session holds the small amount of client state that survives a
// restart: the access token and cached group avatars used as placeholders
// until fresh data arrives. Message bodies are deliberately never persisted;
// reopening always re-syncs from the server.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	bolt "go.etcd.io/bbolt"

	"github.com/observer/saucer/internal/domain"
)

var (
	bucketSession = []byte("session")
	bucketAvatars = []byte("avatars")

	keyToken = []byte("token")
)

// StateStore is the bbolt-backed persistence layer.
type StateStore struct {
	db *bolt.DB
}

// Open creates or opens the state file.
func Open(path string) (*StateStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSession); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketAvatars)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state store: %w", err)
	}
	return &StateStore{db: db}, nil
}

func (s *StateStore) Close() error {
	return s.db.Close()
}

// Token returns the cached access token, or ErrTokenMissing.
func (s *StateStore) Token() (string, error) {
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketSession).Get(keyToken); v != nil {
			token = string(v)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return "", domain.ErrTokenMissing
	}
	return token, nil
}

// SetToken caches a freshly issued access token.
func (s *StateStore) SetToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Put(keyToken, []byte(token))
	})
}

// Clear wipes the cached credential after an auth failure. Avatars survive;
// they are placeholders, not authorization state.
func (s *StateStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Delete(keyToken)
	})
}

// Avatar returns the cached placeholder image bytes for a group, if any.
func (s *StateStore) Avatar(groupID string) ([]byte, bool) {
	var img []byte
	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketAvatars).Get([]byte(groupID)); v != nil {
			img = make([]byte, len(v))
			copy(img, v)
		}
		return nil
	})
	return img, img != nil
}

// SetAvatar caches the latest group avatar as the next session's
// placeholder.
func (s *StateStore) SetAvatar(groupID string, img []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAvatars).Put([]byte(groupID), img)
	})
}

// ============================================================================
// Token claims
// ============================================================================

// claims mirrors the server's access token claims.
type claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	Username string `json:"username"`
	Admin    bool   `json:"admin"`
}

// Identity extracts the local user's identity from an access token. The
// signature is not verified here: the client has no signing key and the
// server re-validates on every request. Expired or malformed tokens are
// rejected so the UI can re-authenticate before a doomed connect.
func Identity(token string) (domain.Identity, error) {
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	if c.UserID == "" && c.Subject != "" {
		c.UserID = c.Subject
	}
	if c.UserID == "" {
		return domain.Identity{}, fmt.Errorf("%w: no subject", domain.ErrTokenInvalid)
	}

	ident := domain.Identity{
		UserID:      c.UserID,
		Username:    c.Username,
		GlobalAdmin: c.Admin,
	}
	if c.ExpiresAt != nil {
		ident.ExpiresAt = c.ExpiresAt.Time
		if time.Now().After(ident.ExpiresAt) {
			return domain.Identity{}, errors.Join(domain.ErrTokenInvalid, jwt.ErrTokenExpired)
		}
	}
	return ident, nil
}
