// Command llamabridge is built with -buildmode=c-archive (or c-shared) and
// linked into the iOS app. It exports the C functions the Swift side calls;
// every export returns a sentinel on failure and never lets a panic escape.
//
//	CGO_ENABLED=1 GOOS=ios GOARCH=arm64 go build -tags llama -buildmode=c-archive -o libllamabridge.a ./cmd/llamabridge
//
// Strings returned by generate_text_ios, get_model_info_ios and friends are
// owned by the caller and must be released with free_string_ios exactly once.
// The config file named by LLAMABRIDGE_CONFIG is read on first use.
package main

/*
#include <stdlib.h>
#include <stdint.h>
*/
import "C"

import (
	"os"
	"sync"
	"unsafe"

	"github.com/rs/zerolog"

	"llamabridge/internal/bridge"
	"llamabridge/internal/config"
	"llamabridge/internal/engine"
	"llamabridge/internal/logging"
)

// cAllocator hands strings to the C heap.
type cAllocator struct{}

func (cAllocator) CString(s string) unsafe.Pointer { return unsafe.Pointer(C.CString(s)) }
func (cAllocator) Free(p unsafe.Pointer)           { C.free(p) }

var (
	surfaceOnce sync.Once
	ffi         *bridge.FFI
)

// surface lazily builds the process-wide bridge.
func surface() *bridge.FFI {
	surfaceOnce.Do(func() {
		cfg, cfgErr := config.LoadFromEnv()
		if cfgErr != nil {
			cfg = config.Config{}
		}
		log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
		if err != nil {
			log = zerolog.New(os.Stderr).With().Timestamp().Logger()
		}
		if cfgErr != nil {
			log.Warn().Err(cfgErr).Msg("config ignored, using defaults")
		}
		bc := cfg.BridgeConfig()
		bc.Engine = engine.New()
		bc.Logger = log
		ffi = bridge.NewFFI(bridge.NewWithConfig(bc), bridge.NewLedger(cAllocator{}, nil), log)
	})
	return ffi
}

func goString(s *C.char) string {
	if s == nil {
		return ""
	}
	return C.GoString(s)
}

//export initialize_llama_ios
func initialize_llama_ios() C.int64_t {
	return C.int64_t(surface().Initialize())
}

//export load_model_ios
func load_model_ios(path *C.char) C.int64_t {
	return C.int64_t(surface().LoadModel(goString(path)))
}

//export generate_text_ios
func generate_text_ios(prompt *C.char, maxTokens C.int) *C.char {
	return (*C.char)(surface().GenerateText(goString(prompt), int(maxTokens)))
}

//export get_model_info_ios
func get_model_info_ios() *C.char {
	return (*C.char)(surface().ModelInfo())
}

//export cleanup_ios
func cleanup_ios() {
	surface().Cleanup()
}

//export free_string_ios
func free_string_ios(s *C.char) {
	surface().FreeString(unsafe.Pointer(s))
}

//export last_error_code_ios
func last_error_code_ios() C.int {
	return C.int(surface().LastErrorCode())
}

//export last_error_ios
func last_error_ios() *C.char {
	return (*C.char)(surface().LastError())
}

//export unload_model_ios
func unload_model_ios(handle C.int64_t) C.int64_t {
	return C.int64_t(surface().UnloadModel(int64(handle)))
}

//export generate_with_model_ios
func generate_with_model_ios(handle C.int64_t, prompt *C.char, maxTokens C.int) *C.char {
	return (*C.char)(surface().GenerateWithModel(int64(handle), goString(prompt), int(maxTokens)))
}

//export model_info_ios
func model_info_ios(handle C.int64_t) *C.char {
	return (*C.char)(surface().ModelInfoFor(int64(handle)))
}

func main() {}
