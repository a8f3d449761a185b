package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"strix/internal/errors"
	"strix/internal/logging"
)

const saveRetryAttempts = 3

// Store persists sessions as one JSON file per session with optimistic
// version checking: every save verifies the caller's version matches the
// stored one, so stale writers (loop vs HTTP handlers) lose cleanly.
type Store struct {
	dir    string
	logger logging.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore opens a session store rooted at dir, loading existing sessions.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "create session store directory")
	}

	s := &Store{
		dir:      dir,
		logger:   logging.NewComponentLogger("session-store"),
		sessions: make(map[string]*Session),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "read session store directory")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.Warn("Skipping unreadable session file %s: %v", entry.Name(), err)
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			s.logger.Warn("Skipping corrupt session file %s: %v", entry.Name(), err)
			continue
		}
		s.sessions[sess.ID] = &sess
	}
	s.logger.Debug("Loaded %d sessions from %s", len(s.sessions), dir)
	return s, nil
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// persist must be called with s.mu held.
func (s *Store) persist(sess *Session) error {
	encoded, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "encode session "+sess.ID)
	}
	if err := os.WriteFile(s.path(sess.ID), append(encoded, '\n'), 0o600); err != nil {
		return errors.Wrap(errors.KindInternal, err, "write session "+sess.ID)
	}
	return nil
}

// Create stores a new session. A caller-supplied id that already exists is
// a conflict; a blank id gets a generated one.
func (s *Store) Create(sess *Session) (*Session, error) {
	if strings.TrimSpace(sess.TaskDescription) == "" {
		return nil, errors.New(errors.KindValidation, "task description is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *sess
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	} else if _, exists := s.sessions[stored.ID]; exists {
		return nil, errors.New(errors.KindStoreConflict, "session already exists: "+stored.ID)
	}

	now := time.Now()
	stored.Status = StatusPending
	stored.Version = 1
	stored.CreateTime = now
	stored.UpdateTime = now
	s.sessions[stored.ID] = &stored

	if err := s.persist(&stored); err != nil {
		delete(s.sessions, stored.ID)
		return nil, err
	}
	s.logger.Info("Created session %s", stored.ID)
	return stored.Clone(), nil
}

// Get returns a session snapshot by id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "session not found: "+id)
	}
	return sess.Clone(), nil
}

// List returns all sessions, newest first.
func (s *Store) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateTime.After(out[j].CreateTime) })
	return out
}

// Save writes a session snapshot back. The snapshot's version must match
// the stored version; on success the version is incremented.
func (s *Store) Save(sess *Session) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[sess.ID]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "session not found: "+sess.ID)
	}
	if current.Version != sess.Version {
		return nil, errors.New(errors.KindStoreConflict,
			"stale session write for "+sess.ID)
	}

	stored := *sess
	stored.Version++
	stored.UpdateTime = time.Now()
	s.sessions[stored.ID] = &stored

	if err := s.persist(&stored); err != nil {
		s.sessions[stored.ID] = current
		return nil, err
	}
	return stored.Clone(), nil
}

// Update reloads the session by id, applies mutate, and saves, retrying on
// version conflicts up to 3 times before surfacing the conflict.
func (s *Store) Update(id string, mutate func(*Session) error) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt < saveRetryAttempts; attempt++ {
		sess, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if err := mutate(sess); err != nil {
			return nil, err
		}
		saved, err := s.Save(sess)
		if err == nil {
			return saved, nil
		}
		if !errors.IsKind(err, errors.KindStoreConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug("Retrying stale save for session %s (attempt %d)", id, attempt+1)
	}
	return nil, lastErr
}
