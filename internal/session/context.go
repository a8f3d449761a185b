package session

import (
	"encoding/json"

	"strix/internal/errors"
	"strix/internal/llm"
	"strix/internal/logging"
)

// ContextStore manages the ordered message list of a session, persisted as
// a JSON blob on the session row. The loop is the sole writer; persistence
// always reloads the row by id so session-field writes from HTTP handlers
// are never clobbered.
type ContextStore struct {
	sessions    *Store
	maxMessages int
	logger      logging.Logger
}

// NewContextStore builds a context store trimming to maxMessages.
func NewContextStore(sessions *Store, maxMessages int) *ContextStore {
	if maxMessages <= 0 {
		maxMessages = 50
	}
	return &ContextStore{
		sessions:    sessions,
		maxMessages: maxMessages,
		logger:      logging.NewComponentLogger("context-store"),
	}
}

// Load returns the session's message list, empty when none was stored.
func (c *ContextStore) Load(sessionID string) ([]llm.Message, error) {
	sess, err := c.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.ContextBlob == "" {
		return nil, nil
	}
	var messages []llm.Message
	if err := json.Unmarshal([]byte(sess.ContextBlob), &messages); err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "parse context for session "+sessionID)
	}
	return messages, nil
}

// Initialize replaces the message list.
func (c *ContextStore) Initialize(sessionID string, messages []llm.Message) error {
	return c.persist(sessionID, c.trim(messages))
}

// Append loads the current list, appends all messages in order, trims and
// persists. The caller passes an iteration's assistant message and its tool
// results together so they land in one write.
func (c *ContextStore) Append(sessionID string, messages ...llm.Message) error {
	current, err := c.Load(sessionID)
	if err != nil {
		return err
	}
	return c.persist(sessionID, c.trim(append(current, messages...)))
}

func (c *ContextStore) persist(sessionID string, messages []llm.Message) error {
	blob, err := json.Marshal(messages)
	if err != nil {
		return errors.Wrap(errors.KindInternal, err, "encode context for session "+sessionID)
	}
	_, err = c.sessions.Update(sessionID, func(sess *Session) error {
		sess.ContextBlob = string(blob)
		return nil
	})
	return err
}

// trim bounds the list to maxMessages, keeping the leading system message
// (when present) pinned at index 0 and dropping the oldest of the rest.
func (c *ContextStore) trim(messages []llm.Message) []llm.Message {
	if len(messages) <= c.maxMessages {
		return messages
	}
	if messages[0].Role == "system" {
		kept := make([]llm.Message, 0, c.maxMessages)
		kept = append(kept, messages[0])
		kept = append(kept, messages[len(messages)-(c.maxMessages-1):]...)
		c.logger.Debug("Trimmed context from %d to %d messages (system prompt pinned)", len(messages), len(kept))
		return kept
	}
	kept := messages[len(messages)-c.maxMessages:]
	c.logger.Debug("Trimmed context from %d to %d messages", len(messages), len(kept))
	return kept
}
