// Package spool owns the tenant-scoped upload spool directory and its
// request-lifetime cleanup (spec §9's replacement for inline per-tenant
// directory creation, and §6's persisted-state layout
// `<cwd>/uploads/<tenantId>/<uuid><ext>`).
package spool

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Manager creates and cleans up per-tenant upload spool files under root.
type Manager struct {
	root string
}

// New builds a Manager rooted at root (e.g. "<cwd>/uploads").
func New(root string) *Manager {
	return &Manager{root: root}
}

// Spooled is one spooled file, owned for the lifetime of a single request.
type Spooled struct {
	Path string
	mgr  *Manager
}

// Create writes data to a new uuid-named file under <root>/<tenantID>/,
// preserving originalName's extension.
func (m *Manager) Create(tenantID, originalName string, data []byte) (*Spooled, error) {
	dir := filepath.Join(m.root, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool: create tenant directory: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	name := uuid.NewString() + ext
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("spool: write upload: %w", err)
	}
	return &Spooled{Path: path, mgr: m}, nil
}

// Cleanup removes the spooled file. Safe to call multiple times; safe to
// call in a defer regardless of request outcome.
func (s *Spooled) Cleanup() error {
	if s == nil {
		return nil
	}
	err := os.Remove(s.Path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
