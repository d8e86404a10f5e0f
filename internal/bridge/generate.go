package bridge

import (
	"context"
	"time"

	"llamabridge/internal/engine"
)

// Generate runs the active model on prompt and returns the produced text.
// maxTokens <= 0 yields an empty string without touching the engine.
func (b *Bridge) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	res, err := b.GenerateWith(ctx, 0, GenerateRequest{Prompt: prompt, MaxTokens: maxTokens}, nil)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// GenerateWith runs the model identified by h (0 = active). onToken, when
// non-nil, receives token pieces as they are produced; returning an error from
// it aborts the generation.
func (b *Bridge) GenerateWith(ctx context.Context, h Handle, req GenerateRequest, onToken func(string) error) (Result, error) {
	start := time.Now()
	inst, err := b.lookup(opGenerate, h)
	if err != nil {
		return Result{}, err
	}
	if req.MaxTokens <= 0 {
		return Result{Handle: inst.Handle, FinishReason: engine.FinishLength}, nil
	}

	res, err := b.generate(ctx, inst, req, onToken)
	res.Duration = time.Since(start)
	b.metrics.ObserveGeneration(err, res.Duration, res.Tokens)
	if err != nil {
		b.log.Warn().Err(err).Int64("handle", int64(inst.Handle)).Str("kind", KindOf(err).String()).Msg("generate failed")
		b.publisher.Publish(Event{Name: "generate_fail", Handle: inst.Handle, Fields: map[string]any{"kind": KindOf(err).String()}})
		return Result{}, err
	}
	b.log.Debug().
		Int64("handle", int64(inst.Handle)).
		Int("tokens", res.Tokens).
		Str("finish", res.FinishReason).
		Dur("dur", res.Duration).
		Msg("generate done")
	b.publisher.Publish(Event{Name: "generate_done", Handle: inst.Handle, Fields: map[string]any{"tokens": res.Tokens}})
	return res, nil
}

func (b *Bridge) generate(ctx context.Context, inst *Instance, req GenerateRequest, onToken func(string) error) (Result, error) {
	release, err := b.beginGeneration(ctx, inst)
	if err != nil {
		return Result{Handle: inst.Handle}, err
	}
	defer release()

	// Retiring the instance cancels the generation at the next token.
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(inst.ctx, cancel)
	defer stop()

	out, err := inst.model.Generate(gctx, req.Prompt, b.params(req), onToken)
	if err != nil {
		if inst.ctx.Err() != nil {
			return Result{Handle: inst.Handle}, errorf(opGenerate, KindInvalidHandle, "handle %d released during generation: %w", inst.Handle, err)
		}
		return Result{Handle: inst.Handle}, newError(opGenerate, KindGenerationFailed, err)
	}

	b.mu.Lock()
	inst.LastUsed = time.Now()
	b.mu.Unlock()
	return Result{
		Handle:       inst.Handle,
		Content:      out.Content,
		Tokens:       out.Tokens,
		FinishReason: out.FinishReason,
	}, nil
}

// params merges per-request overrides onto the configured defaults.
func (b *Bridge) params(req GenerateRequest) engine.Params {
	p := engine.Params{
		MaxTokens:     req.MaxTokens,
		Threads:       b.cfg.Threads,
		Temperature:   b.cfg.Temperature,
		TopP:          b.cfg.TopP,
		TopK:          b.cfg.TopK,
		RepeatPenalty: b.cfg.RepeatPenalty,
		Seed:          b.cfg.Seed,
		Stop:          b.cfg.Stop,
	}
	if b.cfg.MaxTokensCap > 0 && p.MaxTokens > b.cfg.MaxTokensCap {
		p.MaxTokens = b.cfg.MaxTokensCap
	}
	if req.Temperature > 0 {
		p.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		p.TopP = req.TopP
	}
	if req.TopK > 0 {
		p.TopK = req.TopK
	}
	if req.RepeatPenalty > 0 {
		p.RepeatPenalty = req.RepeatPenalty
	}
	if req.Seed != 0 {
		p.Seed = req.Seed
	}
	if len(req.Stop) > 0 {
		p.Stop = req.Stop
	}
	return p
}
