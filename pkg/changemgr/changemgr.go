// Package changemgr applies reviewed changes to the team's own source and
// configuration files, with per-request backups so every applied change can
// be rolled back.
package changemgr

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"
)

// Request lifecycle states.
const (
	StatusPending    = "pending"
	StatusApplied    = "applied"
	StatusRejected   = "rejected"
	StatusRolledBack = "rolledBack"
)

var (
	// ErrPathNotAllowed is returned for targets outside the allow-list.
	ErrPathNotAllowed = errors.New("changemgr: path not in allow-list")
	// ErrUnknownRequest is returned for ids never proposed.
	ErrUnknownRequest = errors.New("changemgr: unknown request id")
	// ErrBadTransition is returned for operations invalid in the request's
	// current status.
	ErrBadTransition = errors.New("changemgr: invalid status transition")
)

// ChangeRequest records one proposed file change. Terminal requests are
// retained for audit.
type ChangeRequest struct {
	ID              string
	TargetPath      string
	OriginalContent string
	ProposedContent string
	Reason          string
	Status          string
	BackupLocation  string
	CreatedAt       time.Time
	ResolvedAt      time.Time
}

// Manager owns the propose/apply/rollback workflow. Target paths are
// resolved to absolute form before the allow-list check so relative
// spellings cannot bypass it.
type Manager struct {
	mu        sync.Mutex
	requests  map[string]*ChangeRequest
	allowed   map[string]struct{}
	backupDir string
}

// New constructs a manager restricted to the given target paths, keeping
// backups under backupDir.
func New(backupDir string, allowedPaths []string) (*Manager, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("changemgr: create backup dir: %w", err)
	}
	allowed := make(map[string]struct{}, len(allowedPaths))
	for _, p := range allowedPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("changemgr: resolve allowed path %s: %w", p, err)
		}
		allowed[abs] = struct{}{}
	}
	return &Manager{
		requests:  make(map[string]*ChangeRequest),
		allowed:   allowed,
		backupDir: backupDir,
	}, nil
}

// Propose validates the target path, backs up the current content and
// records a pending request. Returns the request id.
func (m *Manager) Propose(path, newContent, reason string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("changemgr: resolve %s: %w", path, err)
	}
	if _, ok := m.allowed[abs]; !ok {
		return "", fmt.Errorf("%w: %s", ErrPathNotAllowed, path)
	}

	original, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("changemgr: read %s: %w", abs, err)
	}

	id := uuid.NewString()[:8]
	backup := filepath.Join(m.backupDir, fmt.Sprintf("%s_%s.bak", id, filepath.Base(abs)))
	if err := os.WriteFile(backup, original, 0o644); err != nil {
		return "", fmt.Errorf("changemgr: write backup: %w", err)
	}

	req := &ChangeRequest{
		ID:              id,
		TargetPath:      abs,
		OriginalContent: string(original),
		ProposedContent: newContent,
		Reason:          reason,
		Status:          StatusPending,
		BackupLocation:  backup,
		CreatedAt:       time.Now(),
	}
	m.mu.Lock()
	m.requests[id] = req
	m.mu.Unlock()

	logx.Infof("[changemgr] proposed %s for %s: %s", id, abs, reason)
	return id, nil
}

// Apply overwrites the target with the proposed content. Only valid from
// pending.
func (m *Manager) Apply(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if req.Status != StatusPending {
		return fmt.Errorf("%w: apply from %s", ErrBadTransition, req.Status)
	}
	if err := os.WriteFile(req.TargetPath, []byte(req.ProposedContent), 0o644); err != nil {
		return fmt.Errorf("changemgr: apply %s: %w", id, err)
	}
	req.Status = StatusApplied
	req.ResolvedAt = time.Now()
	logx.Infof("[changemgr] applied %s to %s", id, req.TargetPath)
	return nil
}

// Rollback resolves a request: a pending request is marked rejected with no
// filesystem effect; an applied request has its backup restored and is
// marked rolledBack.
func (m *Manager) Rollback(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	switch req.Status {
	case StatusPending:
		req.Status = StatusRejected
		req.ResolvedAt = time.Now()
		logx.Infof("[changemgr] rejected %s", id)
		return nil
	case StatusApplied:
		backup, err := os.ReadFile(req.BackupLocation)
		if err != nil {
			return fmt.Errorf("changemgr: read backup for %s: %w", id, err)
		}
		if err := os.WriteFile(req.TargetPath, backup, 0o644); err != nil {
			return fmt.Errorf("changemgr: restore %s: %w", id, err)
		}
		req.Status = StatusRolledBack
		req.ResolvedAt = time.Now()
		logx.Infof("[changemgr] rolled back %s on %s", id, req.TargetPath)
		return nil
	default:
		return fmt.Errorf("%w: rollback from %s", ErrBadTransition, req.Status)
	}
}

// Request returns a copy of the request with the given id.
func (m *Manager) Request(id string) (ChangeRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return ChangeRequest{}, false
	}
	return *req, true
}

// Requests returns copies of all requests, for audit.
func (m *Manager) Requests() []ChangeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChangeRequest, 0, len(m.requests))
	for _, req := range m.requests {
		out = append(out, *req)
	}
	return out
}
