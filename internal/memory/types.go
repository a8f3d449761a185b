package memory

import "strings"

// Type classifies a long-term memory.
type Type string

const (
	// TypeEpisodic captures concrete events: tool outcomes, task runs.
	TypeEpisodic Type = "EPISODIC"
	// TypeSemantic captures stable facts about the user or the world.
	TypeSemantic Type = "SEMANTIC"
	// TypeProcedural captures how-to knowledge.
	TypeProcedural Type = "PROCEDURAL"
)

// ParseType maps free-form input to a memory type, defaulting to SEMANTIC.
func ParseType(s string) Type {
	switch Type(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeEpisodic:
		return TypeEpisodic
	case TypeProcedural:
		return TypeProcedural
	default:
		return TypeSemantic
	}
}

// Record is one long-term memory. Score is only populated by search and
// recall operations.
type Record struct {
	ID           int64   `json:"id"`
	SessionID    string  `json:"sessionId"`
	Content      string  `json:"content"`
	MemoryType   Type    `json:"memoryType"`
	Importance   float32 `json:"importance"`
	CreateTimeMs int64   `json:"createTimeMs"`
	Score        float32 `json:"score,omitempty"`
}
