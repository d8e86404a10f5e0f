package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"llamabridge/internal/httpapi"
	"llamabridge/internal/metrics"
	"llamabridge/internal/registry"
)

const defaultAddr = ":8089"

type serveOptions struct {
	addr            string
	modelsDir       string
	load            string
	cors            bool
	corsOrigins     []string
	generateTimeout time.Duration
	maxBodyBytes    int64
}

func newServeCmd(a *app) *cobra.Command {
	var o serveOptions
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Serve the debug HTTP API over an in-process bridge",
		Example: "  bridgectl serve --addr :8089 --load ~/models/tinyllama.Q4_K_M.gguf",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "", "Listen address (defaults to addr from config or "+defaultAddr+")")
	f.StringVar(&o.modelsDir, "models-dir", "", "Directory listed by GET /models (defaults to models_dir)")
	f.StringVar(&o.load, "load", "", "Model to load at startup")
	f.BoolVar(&o.cors, "cors", false, "Enable CORS")
	f.StringSliceVar(&o.corsOrigins, "cors-origins", nil, "Allowed CORS origins (default *)")
	f.DurationVar(&o.generateTimeout, "generate-timeout", 0, "Per-request generation timeout (0 = none)")
	f.Int64Var(&o.maxBodyBytes, "max-body-bytes", 1<<20, "Maximum JSON request body size")
	return cmd
}

func (a *app) serve(parent context.Context, o serveOptions) error {
	if o.addr == "" {
		o.addr = a.cfg.Addr
	}
	if o.addr == "" {
		o.addr = defaultAddr
	}
	if o.modelsDir == "" {
		o.modelsDir = a.cfg.ModelsDir
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	b := a.newBridge(metrics.New(reg))
	defer b.Cleanup()
	if err := b.Initialize(ctx); err != nil {
		// Keep serving so /status can report why.
		a.log.Warn().Err(err).Msg("bridge not initialized")
	} else if o.load != "" {
		if _, err := b.Load(ctx, o.load); err != nil {
			return err
		}
	}

	scanner := registry.NewScanner(0)
	defer scanner.Close()

	httpapi.SetLogger(a.log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(o.maxBodyBytes)
	httpapi.SetGenerateTimeout(o.generateTimeout)
	httpapi.SetCORSOptions(o.cors, o.corsOrigins, nil, nil)

	srv := &http.Server{
		Addr: o.addr,
		Handler: httpapi.NewMux(b, httpapi.Options{
			Models:    scanner,
			ModelsDir: o.modelsDir,
			Gatherer:  prometheus.Gatherers{prometheus.DefaultGatherer, reg},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", o.addr).Str("models_dir", o.modelsDir).Str("engine", b.EngineName()).Msg("bridgectl listening")
		errCh <- fnServe(srv)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
