package tools

import "encoding/json"

// Built-in tool names. Their logic lives with the agent loop; the registry
// only advertises them.
const (
	RecallMemoryName = "recall_memory"
	StoreMemoryName  = "store_memory"
)

var recallMemorySchema = json.RawMessage(`{"type":"object","properties":{
  "query":{"type":"string"},
  "top_k":{"type":"integer","minimum":1,"maximum":20}},
  "required":["query"]}`)

var storeMemorySchema = json.RawMessage(`{"type":"object","properties":{
  "content":{"type":"string"},
  "memory_type":{"type":"string","enum":["EPISODIC","SEMANTIC","PROCEDURAL"]},
  "importance":{"type":"number","minimum":0,"maximum":1}},
  "required":["content"]}`)

// builtinDescriptors returns fresh copies of the built-in tools, injected on
// every registry load.
func builtinDescriptors() []*Descriptor {
	return []*Descriptor{
		{
			ID:   RecallMemoryName,
			Name: RecallMemoryName,
			Description: "Search the agent's long-term memory with a natural-language query. " +
				"Use it when the question could be answered from previously stored facts.",
			Kind:      KindNative,
			Schema:    recallMemorySchema,
			IsBuiltin: true,
			IsActive:  true,
		},
		{
			ID:   StoreMemoryName,
			Name: StoreMemoryName,
			Description: "Persist a stable, long-term fact into the agent's memory. " +
				"Store each distinct fact at most once, rewritten in explicit third-person form.",
			Kind:      KindNative,
			Schema:    storeMemorySchema,
			IsBuiltin: true,
			IsActive:  true,
		},
	}
}
