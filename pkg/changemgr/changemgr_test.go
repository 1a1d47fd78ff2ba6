package changemgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "strategy.yaml")
	require.NoError(t, os.WriteFile(target, []byte("leverage: 10\n"), 0o644))

	m, err := New(filepath.Join(dir, "backups"), []string{target})
	require.NoError(t, err)
	return m, target
}

func TestProposeRejectsUnlistedPath(t *testing.T) {
	m, _ := setup(t)
	_, err := m.Propose("/etc/passwd", "nope", "test")
	assert.ErrorIs(t, err, ErrPathNotAllowed)
}

func TestProposeThenRejectLeavesFileUntouched(t *testing.T) {
	m, target := setup(t)
	id, err := m.Propose(target, "leverage: 25\n", "raise leverage")
	require.NoError(t, err)

	require.NoError(t, m.Rollback(id))
	req, ok := m.Request(id)
	require.True(t, ok)
	assert.Equal(t, StatusRejected, req.Status)

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "leverage: 10\n", string(content))

	// Terminal requests accept no further transitions.
	assert.ErrorIs(t, m.Apply(id), ErrBadTransition)
	assert.ErrorIs(t, m.Rollback(id), ErrBadTransition)
}

func TestApplyThenRollbackRestoresExactBytes(t *testing.T) {
	m, target := setup(t)
	id, err := m.Propose(target, "leverage: 8\n", "reduce risk")
	require.NoError(t, err)

	require.NoError(t, m.Apply(id))
	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "leverage: 8\n", string(content))

	require.NoError(t, m.Rollback(id))
	content, err = os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "leverage: 10\n", string(content), "rollback restores the original bytes")

	req, _ := m.Request(id)
	assert.Equal(t, StatusRolledBack, req.Status)
	assert.FileExists(t, req.BackupLocation)
}

func TestApplyUnknownID(t *testing.T) {
	m, _ := setup(t)
	assert.ErrorIs(t, m.Apply("deadbeef"), ErrUnknownRequest)
	assert.ErrorIs(t, m.Rollback("deadbeef"), ErrUnknownRequest)
}

func TestRequestsRetainedForAudit(t *testing.T) {
	m, target := setup(t)
	id1, err := m.Propose(target, "leverage: 8\n", "first")
	require.NoError(t, err)
	require.NoError(t, m.Rollback(id1))

	id2, err := m.Propose(target, "leverage: 12\n", "second")
	require.NoError(t, err)
	require.NoError(t, m.Apply(id2))

	assert.Len(t, m.Requests(), 2)
}
