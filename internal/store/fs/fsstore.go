// Package fs persists one JSON document per tenant under a data directory,
// written atomically via a temp file rename.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"signum.org/internal/roster"
)

// Store is a file-per-tenant document store.
type Store struct {
	dir string
}

var _ roster.Store = (*Store)(nil)

// Open creates the data directory if needed and returns the store.
func Open(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("fs: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fs: create data dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(tenantID string) (string, error) {
	// Tenant ids become file names; keep them to a safe charset.
	if tenantID == "" || strings.ContainsAny(tenantID, `/\`) || strings.Contains(tenantID, "..") {
		return "", fmt.Errorf("%w: invalid tenant id %q", roster.ErrInvalidInput, tenantID)
	}
	return filepath.Join(s.dir, tenantID+".json"), nil
}

func (s *Store) Load(ctx context.Context, tenantID string) (*roster.Document, error) {
	p, err := s.path(tenantID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return roster.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	doc := roster.NewDocument()
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("%w: decode tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	return doc, nil
}

func (s *Store) Save(ctx context.Context, tenantID string, doc *roster.Document) error {
	p, err := s.path(tenantID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: write tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: write tenant %s: %v", roster.ErrStorage, tenantID, err)
	}
	return nil
}
