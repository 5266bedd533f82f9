package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gstate/internal/smt"
)

func open(t *testing.T) *Store {
	s, err := Open(filepath.Join(t.TempDir(), "nested", "gstate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func Test_LookupMiss(t *testing.T) {
	s := open(t)
	_, found, err := s.Lookup(42)
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_RecordLookup(t *testing.T) {
	s := open(t)
	v := smt.Verdict{Key: 7, Solver: "yices", Mode: smt.ModeProve, Status: smt.StatusUnsat, Query: "x == 1", Core: []int{0, 2}}
	require.NoError(t, s.Record(v))

	got, found, err := s.Lookup(7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v, got)
}

func Test_ListStampsSession(t *testing.T) {
	s := open(t)
	id := uuid.New()
	session := s.WithSession(id)
	session.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, session.Record(smt.Verdict{Key: 2, Solver: "z3", Mode: smt.ModeSolve, Status: smt.StatusSat}))
	require.NoError(t, s.Record(smt.Verdict{Key: 1, Solver: "yices", Mode: smt.ModeSolve, Status: smt.StatusUnknown, Reason: "timeout"}))

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(1), entries[0].Key)
	assert.Empty(t, entries[0].Session)
	assert.Equal(t, "timeout", entries[0].Reason)
	assert.Equal(t, id.String(), entries[1].Session)
	assert.Equal(t, int64(1700000000), entries[1].Recorded)
}

func Test_Clear(t *testing.T) {
	s := open(t)
	require.NoError(t, s.Record(smt.Verdict{Key: 1}))
	require.NoError(t, s.Clear())
	entries, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func Test_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gstate.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(smt.Verdict{Key: 9, Status: smt.StatusUnsat}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, found, err := s.Lookup(9)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, smt.StatusUnsat, v.Status)
}

var _ smt.VerdictCache = (*Store)(nil)
