package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strix/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateAssignsDefaults(t *testing.T) {
	s := newTestStore(t)

	sess, err := s.Create(&Session{TaskDescription: "summarize the report"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, StatusPending, sess.Status)
	assert.Equal(t, int64(1), sess.Version)
	assert.Equal(t, "/agent/"+sess.ID, sess.SubscribePath())
}

func TestCreateRejectsBlankTaskAndDuplicateID(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Create(&Session{})
	assert.True(t, errors.IsKind(err, errors.KindValidation))

	_, err = s.Create(&Session{ID: "fixed", TaskDescription: "t"})
	require.NoError(t, err)
	_, err = s.Create(&Session{ID: "fixed", TaskDescription: "t"})
	assert.True(t, errors.IsKind(err, errors.KindStoreConflict))
}

func TestSaveOptimisticVersioning(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Create(&Session{TaskDescription: "t"})
	require.NoError(t, err)

	// Two snapshots of the same version: the second write is stale.
	a, err := s.Get(sess.ID)
	require.NoError(t, err)
	b, err := s.Get(sess.ID)
	require.NoError(t, err)

	a.Status = StatusRunning
	saved, err := s.Save(a)
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Version)

	b.Status = StatusFailed
	_, err = s.Save(b)
	assert.True(t, errors.IsKind(err, errors.KindStoreConflict))

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestUpdateRetriesByRefetching(t *testing.T) {
	s := newTestStore(t)
	sess, err := s.Create(&Session{TaskDescription: "t"})
	require.NoError(t, err)

	// Interleave a concurrent write on the first mutate attempt; Update
	// must refetch and still land its change.
	interfered := false
	_, err = s.Update(sess.ID, func(cur *Session) error {
		if !interfered {
			interfered = true
			other, err := s.Get(sess.ID)
			require.NoError(t, err)
			other.IterationCount = 7
			_, err = s.Save(other)
			require.NoError(t, err)
		}
		cur.Status = StatusRunning
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 7, got.IterationCount, "the interfering write must survive the retry")
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	sess, err := s.Create(&Session{TaskDescription: "persisted task", UserID: "u1"})
	require.NoError(t, err)
	_, err = s.Update(sess.ID, func(cur *Session) error {
		cur.Status = StatusCompleted
		cur.Result = "done"
		return nil
	})
	require.NoError(t, err)

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "done", got.Result)
	assert.Equal(t, "persisted task", got.TaskDescription)
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusPaused.Terminal())
	assert.False(t, StatusPending.Terminal())
}
