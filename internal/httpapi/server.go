package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llamabridge/internal/bridge"
	"llamabridge/pkg/types"
)

// Service is the subset of *bridge.Bridge the HTTP layer drives.
type Service interface {
	Initialize(ctx context.Context) error
	Load(ctx context.Context, path string) (bridge.Handle, error)
	Unload(h bridge.Handle) error
	GenerateWith(ctx context.Context, h bridge.Handle, req bridge.GenerateRequest, onToken func(string) error) (bridge.Result, error)
	Info(h bridge.Handle) (types.ModelInfo, error)
	Status() types.StatusResponse
	Ready() bool
	Cleanup()
}

// Lister enumerates model files on disk.
type Lister interface {
	Scan(ctx context.Context, dir string) ([]types.ModelFile, error)
}

// Options configures NewMux.
type Options struct {
	// Models backs GET /models; nil disables the listing.
	Models Lister
	// ModelsDir is scanned when the request does not pass ?dir=.
	ModelsDir string
	// Gatherer serves /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// NewMux builds the debug HTTP surface over svc.
func NewMux(svc Service, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: orDefault(corsAllowedOrigins, []string{"*"}),
			AllowedMethods: orDefault(corsAllowedMethods, []string{"GET", "POST", "DELETE", "OPTIONS"}),
			AllowedHeaders: orDefault(corsAllowedHeaders, []string{"Content-Type", "X-Log-Level"}),
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc, opts: opts}
	r.Group(func(r chi.Router) {
		r.Use(inflight)
		r.Post("/initialize", h.initialize)
		r.Post("/models", h.load)
		r.Delete("/models/{handle}", h.unload)
		r.Get("/models", h.models)
		r.Get("/info", h.info)
		r.Post("/generate", h.generate)
		r.Get("/status", h.status)
		r.Post("/cleanup", h.cleanup)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no model"))
	})

	if opts.Gatherer != nil {
		r.Get("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}).ServeHTTP)
	} else {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
	}
	MountSwagger(r)
	return r
}

func orDefault(v, def []string) []string {
	if len(v) == 0 {
		return def
	}
	return v
}

type handlers struct {
	svc  Service
	opts Options
}

// decodeJSON enforces the content type and body limit and decodes into v.
// It writes the error response itself and reports whether decoding worked.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, bridge.KindInvalidArgument.String(), "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, bridge.KindInvalidArgument.String(), "invalid JSON body")
		return false
	}
	return true
}

// handleParam parses an optional handle; empty means the active model.
func handleParam(s string) (bridge.Handle, bool) {
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return bridge.Handle(n), true
}

// initialize godoc
// @Summary  Initialize the inference backend
// @Tags     lifecycle
// @Produce  json
// @Success  200 {object} types.InitResponse
// @Failure  503 {object} types.ErrorResponse
// @Router   /initialize [post]
func (h *handlers) initialize(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	if err := h.svc.Initialize(r.Context()); err != nil {
		logEnd(r, lvl, "initialize", writeBridgeError(w, err), start, err)
		return
	}
	st := h.svc.Status()
	writeJSON(w, http.StatusOK, types.InitResponse{State: st.State, Engine: st.Engine})
	logEnd(r, lvl, "initialize", http.StatusOK, start, nil)
}

// load godoc
// @Summary  Load a GGUF model and make it active
// @Tags     models
// @Accept   json
// @Produce  json
// @Param    body body types.LoadRequest true "Model path"
// @Success  201 {object} types.LoadResponse
// @Failure  404 {object} types.ErrorResponse
// @Failure  422 {object} types.ErrorResponse
// @Failure  507 {object} types.ErrorResponse
// @Router   /models [post]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	var req types.LoadRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	handle, err := h.svc.Load(r.Context(), req.Path)
	if err != nil {
		logEnd(r, lvl, "load", writeBridgeError(w, err), start, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.LoadResponse{Handle: int64(handle)})
	logEnd(r, lvl, "load", http.StatusCreated, start, nil)
}

// unload godoc
// @Summary  Free a loaded model
// @Tags     models
// @Param    handle path int true "Model handle"
// @Success  204
// @Failure  404 {object} types.ErrorResponse
// @Router   /models/{handle} [delete]
func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	handle, ok := handleParam(chi.URLParam(r, "handle"))
	if !ok || handle == 0 {
		writeJSONError(w, http.StatusBadRequest, bridge.KindInvalidArgument.String(), "handle must be a positive integer")
		return
	}
	if err := h.svc.Unload(handle); err != nil {
		logEnd(r, lvl, "unload", writeBridgeError(w, err), start, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
	logEnd(r, lvl, "unload", http.StatusNoContent, start, nil)
}

// models godoc
// @Summary  List GGUF files in the models directory
// @Tags     models
// @Produce  json
// @Param    dir query string false "Directory to scan instead of models_dir"
// @Success  200 {object} types.ModelsResponse
// @Router   /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	dir := r.URL.Query().Get("dir")
	if dir == "" {
		dir = h.opts.ModelsDir
	}
	if h.opts.Models == nil || dir == "" {
		writeJSONError(w, http.StatusNotFound, bridge.KindInvalidArgument.String(), "no models directory configured")
		return
	}
	files, err := h.opts.Models.Scan(r.Context(), dir)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, bridge.KindFileNotFound.String(), err.Error())
		return
	}
	if files == nil {
		files = []types.ModelFile{}
	}
	writeJSON(w, http.StatusOK, types.ModelsResponse{Models: files})
}

// info godoc
// @Summary  Describe a loaded model
// @Tags     models
// @Produce  json
// @Param    handle query int false "Model handle; omitted selects the active model"
// @Success  200 {object} types.ModelInfo
// @Failure  404 {object} types.ErrorResponse
// @Failure  409 {object} types.ErrorResponse
// @Router   /info [get]
func (h *handlers) info(w http.ResponseWriter, r *http.Request) {
	handle, ok := handleParam(r.URL.Query().Get("handle"))
	if !ok {
		writeJSONError(w, http.StatusBadRequest, bridge.KindInvalidArgument.String(), "invalid handle")
		return
	}
	info, err := h.svc.Info(handle)
	if err != nil {
		writeBridgeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// generate godoc
// @Summary  Generate text
// @Tags     generate
// @Accept   json
// @Produce  json
// @Produce  application/x-ndjson
// @Param    body body types.GenerateRequest true "Prompt and sampling"
// @Success  200 {object} types.GenerateResponse
// @Failure  409 {object} types.ErrorResponse
// @Failure  429 {object} types.ErrorResponse
// @Router   /generate [post]
func (h *handlers) generate(w http.ResponseWriter, r *http.Request) {
	start, lvl := time.Now(), requestLogLevel(r)
	var req types.GenerateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, bridge.KindInvalidArgument.String(), "prompt is required")
		return
	}
	if req.Handle < 0 {
		writeJSONError(w, http.StatusBadRequest, bridge.KindInvalidArgument.String(), "invalid handle")
		return
	}
	rid := middleware.GetReqID(r.Context())
	if lvl >= LevelInfo {
		logger().Info().Str("request_id", rid).Int64("handle", req.Handle).Int("max_tokens", req.MaxTokens).Bool("stream", req.Stream).Msg("generate start")
	}

	// Shutdown of the server cancels work as well as client disconnects.
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if generateTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, generateTimeout)
		defer tcancel()
	}

	breq := bridge.GenerateRequest{
		Prompt:        req.Prompt,
		MaxTokens:     req.MaxTokens,
		Temperature:   float32(req.Temperature),
		TopP:          float32(req.TopP),
		TopK:          req.TopK,
		RepeatPenalty: float32(req.RepeatPenalty),
		Seed:          int(req.Seed),
		Stop:          req.Stop,
	}

	if !req.Stream {
		res, err := h.svc.GenerateWith(ctx, bridge.Handle(req.Handle), breq, nil)
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			logEnd(r, lvl, "generate", writeBridgeError(w, err), start, err)
			return
		}
		writeJSON(w, http.StatusOK, toResponse(res, false))
		logEnd(r, lvl, "generate", http.StatusOK, start, nil)
		return
	}

	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	out := io.Writer(w)
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{rid: rid})
	}
	enc := json.NewEncoder(out)
	started := false
	begin := func() {
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
	}
	res, err := h.svc.GenerateWith(ctx, bridge.Handle(req.Handle), breq, func(piece string) error {
		begin()
		if err := enc.Encode(types.StreamChunk{Delta: piece}); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		return nil
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		if !started {
			logEnd(r, lvl, "generate", writeBridgeError(w, err), start, err)
			return
		}
		k := bridge.KindOf(err)
		_ = enc.Encode(types.ErrorResponse{Error: err.Error(), Kind: k.String(), Code: statusForKind(k)})
		logEnd(r, lvl, "generate", http.StatusOK, start, err)
		return
	}
	begin()
	_ = enc.Encode(toResponse(res, true))
	if flush != nil {
		flush()
	}
	logEnd(r, lvl, "generate", http.StatusOK, start, nil)
}

func toResponse(res bridge.Result, done bool) types.GenerateResponse {
	return types.GenerateResponse{
		Handle:       int64(res.Handle),
		Content:      res.Content,
		Tokens:       res.Tokens,
		FinishReason: res.FinishReason,
		DurationMS:   res.Duration.Milliseconds(),
		Done:         done,
	}
}

// status godoc
// @Summary  Bridge status
// @Tags     lifecycle
// @Produce  json
// @Success  200 {object} types.StatusResponse
// @Router   /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// cleanup godoc
// @Summary  Free every model and shut the backend down
// @Tags     lifecycle
// @Success  204
// @Router   /cleanup [post]
func (h *handlers) cleanup(w http.ResponseWriter, r *http.Request) {
	h.svc.Cleanup()
	w.WriteHeader(http.StatusNoContent)
}
