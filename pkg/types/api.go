package types

// LoadRequest is the body of POST /models.
type LoadRequest struct {
	// Path to a GGUF model file.
	// example: ~/models/tinyllama.Q4_K_M.gguf
	Path string `json:"path" example:"~/models/tinyllama.Q4_K_M.gguf"`
}

// LoadResponse returns the handle of the loaded model.
type LoadResponse struct {
	// example: 1
	Handle int64 `json:"handle" example:"1"`
}

// GenerateRequest is the body of POST /generate.
type GenerateRequest struct {
	// Model handle; 0 or omitted selects the active model.
	// example: 1
	Handle int64 `json:"handle,omitempty" example:"1"`
	// Prompt text.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// Maximum number of new tokens; 0 produces an empty completion.
	// example: 128
	MaxTokens int `json:"max_tokens" example:"128"`
	// Stream tokens as NDJSON lines.
	Stream bool `json:"stream,omitempty"`
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// example: 40
	TopK int      `json:"top_k,omitempty" example:"40"`
	Stop []string `json:"stop,omitempty"`
	// example: 42
	Seed int64 `json:"seed,omitempty" example:"42"`
	// example: 1.1
	RepeatPenalty float64 `json:"repeat_penalty,omitempty" example:"1.1"`
}

// GenerateResponse is the non-streaming result of POST /generate and the
// final NDJSON line of a stream (with Done set).
type GenerateResponse struct {
	Handle       int64  `json:"handle"`
	Content      string `json:"content"`
	Tokens       int    `json:"tokens"`
	FinishReason string `json:"finish_reason"`
	DurationMS   int64  `json:"duration_ms"`
	Done         bool   `json:"done,omitempty"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelFile `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: load: model file not found: /tmp/x.gguf
	Error string `json:"error"`
	// Bridge error kind.
	// example: file_not_found
	Kind string `json:"kind,omitempty" example:"file_not_found"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}

// BridgeError is the payload of last_error_ios.
type BridgeError struct {
	Kind    string `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// InstanceStatus summarizes a resident model for /status.
type InstanceStatus struct {
	Handle        int64  `json:"handle"`
	Path          string `json:"path"`
	Name          string `json:"name"`
	State         string `json:"state"`
	Active        bool   `json:"active"`
	LastUsed      int64  `json:"last_used"`
	EstMemoryMB   int    `json:"est_memory_mb"`
	QueueLen      int    `json:"queue_len"`
	Inflight      int    `json:"inflight"`
	MaxQueueDepth int    `json:"max_queue_depth"`
}

// StatusResponse is the detailed bridge status.
type StatusResponse struct {
	// Bridge lifecycle state.
	// example: initialized
	State         string           `json:"state" example:"initialized"`
	Engine        string           `json:"engine"`
	ActiveHandle  int64            `json:"active_handle"`
	BudgetMB      int              `json:"budget_mb"`
	UsedMB        int              `json:"used_mb"`
	MarginMB      int              `json:"margin_mb"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Instances     []InstanceStatus `json:"instances"`
	Error         string           `json:"error,omitempty"`
}

// StreamChunk is one NDJSON line of a streamed POST /generate.
type StreamChunk struct {
	Delta string `json:"delta"`
}

// InitResponse reports the bridge state after POST /initialize.
type InitResponse struct {
	// example: initialized
	State  string `json:"state" example:"initialized"`
	Engine string `json:"engine"`
}
