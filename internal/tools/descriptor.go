package tools

import (
	"encoding/json"
	"time"
)

// Kind classifies how a tool is executed.
type Kind string

const (
	KindNative       Kind = "native"
	KindPythonScript Kind = "python_script"
	KindNodeScript   Kind = "node_script"
	KindShellCmd     Kind = "shell_cmd"
)

// Valid reports whether k is a known tool kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNative, KindPythonScript, KindNodeScript, KindShellCmd:
		return true
	}
	return false
}

// Descriptor describes one callable tool: the schema advertised to the
// model plus how to dispatch it. Built-in tools carry their name as id.
type Descriptor struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Kind        Kind            `json:"kind"`
	Schema      json.RawMessage `json:"schema"`
	EntryPoint  string          `json:"entryPoint,omitempty"`
	IsBuiltin   bool            `json:"isBuiltin"`
	IsActive    bool            `json:"isActive"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}
