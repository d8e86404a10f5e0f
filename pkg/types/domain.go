package types

import "time"

// ModelInfo describes a loaded model. It is the payload of get_model_info_ios
// and GET /info.
type ModelInfo struct {
	// Handle of the loaded instance.
	// example: 1
	Handle int64 `json:"handle" example:"1"`
	// Absolute path of the model file.
	// example: /var/mobile/Containers/Data/Application/X/Documents/tinyllama.Q4_K_M.gguf
	Path string `json:"path"`
	// general.name, or the file name when absent.
	// example: TinyLlama 1.1B Chat
	Name string `json:"name" example:"TinyLlama 1.1B Chat"`
	// Model architecture (general.architecture).
	// example: llama
	Architecture string `json:"architecture" example:"llama"`
	// Weight quantization.
	// example: Q4_K_M
	FileType string `json:"file_type" example:"Q4_K_M"`
	// Total weight count derived from the tensor directory.
	// example: 1100048384
	ParameterCount uint64 `json:"parameter_count" example:"1100048384"`
	// Training context window.
	// example: 2048
	ContextLength uint64 `json:"context_length" example:"2048"`
	// Runtime context size the model was loaded with.
	// example: 2048
	ContextSize int `json:"context_size" example:"2048"`
	EmbeddingLength uint64 `json:"embedding_length"`
	BlockCount      uint64 `json:"block_count"`
	VocabSize       uint64 `json:"vocab_size"`
	GGUFVersion     uint32 `json:"gguf_version"`
	TensorCount     uint64 `json:"tensor_count"`
	// Size of the model file in bytes.
	SizeBytes int64 `json:"size_bytes"`
	// Memory estimate used for budgeting, in MB.
	EstMemoryMB int `json:"est_memory_mb"`
	// Inference backend name.
	// example: llama.cpp
	Engine   string    `json:"engine" example:"llama.cpp"`
	LoadedAt time.Time `json:"loaded_at"`
}

// ModelFile is a model discovered on disk by a directory scan.
type ModelFile struct {
	// File name, used as a stable identifier.
	// example: tinyllama.Q4_K_M.gguf
	ID   string `json:"id" example:"tinyllama.Q4_K_M.gguf"`
	Name string `json:"name"`
	Path string `json:"path"`
	SizeBytes      int64  `json:"size_bytes"`
	Architecture   string `json:"architecture,omitempty"`
	FileType       string `json:"file_type,omitempty"`
	ParameterCount uint64 `json:"parameter_count,omitempty"`
	// Probe error for files that are not valid GGUF containers.
	Error string `json:"error,omitempty"`
}
