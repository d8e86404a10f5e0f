//go:build llama

package engine

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"
)

// llamaEngine drives llama.cpp in-process. go-llama.cpp initializes the
// ggml backend on the first model load, so Init only settles thread defaults.
type llamaEngine struct {
	mu      sync.Mutex
	threads int
}

// New returns the llama.cpp engine.
func New() Engine { return &llamaEngine{} }

func (e *llamaEngine) Name() string { return "llama.cpp" }

func (e *llamaEngine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Leave one core to the UI thread on phones.
	e.threads = max(1, runtime.NumCPU()-1)
	return nil
}

func (e *llamaEngine) Load(path string, opts LoadOptions) (Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	m, err := llama.New(path, modelOptions(opts)...)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	threads := e.threads
	e.mu.Unlock()
	return &llamaModel{model: m, threads: threads}, nil
}

func (e *llamaEngine) Shutdown() {}

// modelOptions converts LoadOptions into go-llama.cpp options. Unset fields
// keep go-llama.cpp's defaults, which map weights from disk.
func modelOptions(opts LoadOptions) []llama.ModelOption {
	mo := []llama.ModelOption{llama.SetContext(zn(opts.ContextSize, 2048))}
	if opts.MMap != nil {
		mo = append(mo, llama.SetMMap(*opts.MMap))
	}
	if opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(opts.GPULayers))
	}
	return mo
}

type llamaModel struct {
	model   *llama.LLama
	threads int
}

func (s *llamaModel) Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (Result, error) {
	if s.model == nil {
		return Result{}, errors.New("llama model not initialized")
	}
	tokens := 0
	var cbErr error
	s.model.SetTokenCallback(func(tok string) bool {
		if ctx.Err() != nil {
			return false
		}
		tokens++
		if onToken != nil {
			if err := onToken(tok); err != nil {
				cbErr = err
				return false
			}
		}
		return true
	})
	defer s.model.SetTokenCallback(nil)

	if params.Threads <= 0 {
		params.Threads = s.threads
	}
	text, err := s.model.Predict(prompt, predictOptions(params)...)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	if cbErr != nil {
		return Result{}, cbErr
	}
	if err != nil {
		return Result{}, err
	}
	reason := FinishStop
	if params.MaxTokens > 0 && tokens >= params.MaxTokens {
		reason = FinishLength
	}
	return Result{Content: text, Tokens: tokens, FinishReason: reason}, nil
}

func (s *llamaModel) Close() error {
	if s.model != nil {
		s.model.Free()
		s.model = nil
	}
	return nil
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v, def float32) float32 {
	if v > 0 {
		return v
	}
	return def
}

// predictOptions converts Params into go-llama.cpp options.
func predictOptions(p Params) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(max(1, p.MaxTokens)),
		llama.SetThreads(max(1, p.Threads)),
		llama.SetTopP(zf(p.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(p.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(p.Temperature, llama.DefaultOptions.Temperature)),
		llama.SetPenalty(zf(p.RepeatPenalty, llama.DefaultOptions.Penalty)),
	}
	if p.Seed != 0 {
		po = append(po, llama.SetSeed(p.Seed))
	}
	if len(p.Stop) > 0 {
		po = append(po, llama.SetStopWords(p.Stop...))
	}
	return po
}
