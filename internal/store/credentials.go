package store

import (
	"context"
	"errors"
	"fmt"
)

// Keys outside the shared data set. They are never synced.
const (
	KeyToken       = "sync_token"
	KeyDocumentID  = "sync_document_id"
	KeyUserProfile = "user_profile"
)

// Credentials identify the remote document and authorize access to it.
type Credentials struct {
	Token      string
	DocumentID string
}

// Configured reports whether both the token and the document id are set.
func (c Credentials) Configured() bool {
	return c.Token != "" && c.DocumentID != ""
}

// Credentials returns the stored sync credentials. Missing values are empty.
func (s *Store) Credentials(ctx context.Context) (Credentials, error) {
	var c Credentials
	if err := s.getString(ctx, KeyToken, &c.Token); err != nil {
		return Credentials{}, err
	}
	if err := s.getString(ctx, KeyDocumentID, &c.DocumentID); err != nil {
		return Credentials{}, err
	}
	return c, nil
}

// SaveCredentials stores the sync credentials. Credential writes never
// notify or schedule a sync.
func (s *Store) SaveCredentials(ctx context.Context, c Credentials) error {
	if err := s.Set(ctx, KeyToken, c.Token, Silent()); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	if err := s.Set(ctx, KeyDocumentID, c.DocumentID, Silent()); err != nil {
		return fmt.Errorf("failed to save document id: %w", err)
	}
	return nil
}

// ClearCredentials removes the stored sync credentials.
func (s *Store) ClearCredentials(ctx context.Context) error {
	if err := s.Delete(ctx, KeyToken); err != nil {
		return err
	}
	return s.Delete(ctx, KeyDocumentID)
}

// UserProfile returns the stored display name of the device's user.
func (s *Store) UserProfile(ctx context.Context) (string, error) {
	var name string
	if err := s.getString(ctx, KeyUserProfile, &name); err != nil {
		return "", err
	}
	return name, nil
}

// SaveUserProfile stores the display name of the device's user.
func (s *Store) SaveUserProfile(ctx context.Context, name string) error {
	return s.Set(ctx, KeyUserProfile, name, Silent())
}

func (s *Store) getString(ctx context.Context, key string, dest *string) error {
	err := s.Get(ctx, key, dest)
	if err == nil || errors.Is(err, ErrNotFound) {
		return nil
	}
	return fmt.Errorf("failed to read %s: %w", key, err)
}
