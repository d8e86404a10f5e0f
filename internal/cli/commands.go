package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"llamabridge/internal/bridge"
	"llamabridge/internal/common/fsutil"
	"llamabridge/internal/gguf"
	"llamabridge/internal/registry"
	"llamabridge/pkg/types"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type probeResult struct {
	Path            string         `json:"path"`
	Version         uint32         `json:"gguf_version"`
	Architecture    string         `json:"architecture"`
	Name            string         `json:"name,omitempty"`
	FileType        string         `json:"file_type"`
	ParameterCount  uint64         `json:"parameter_count"`
	ContextLength   uint64         `json:"context_length"`
	EmbeddingLength uint64         `json:"embedding_length"`
	BlockCount      uint64         `json:"block_count"`
	VocabSize       uint64         `json:"vocab_size"`
	TensorCount     uint64         `json:"tensor_count"`
	KVCount         uint64         `json:"kv_count"`
	KV              map[string]any `json:"kv,omitempty"`
}

func newProbeCmd(a *app) *cobra.Command {
	var withKV bool
	cmd := &cobra.Command{
		Use:     "probe <file.gguf>",
		Short:   "Print GGUF header metadata without loading weights",
		Example: "  bridgectl probe ~/models/tinyllama.Q4_K_M.gguf --kv",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := fsutil.Resolve(args[0])
			if err != nil {
				return err
			}
			m, err := gguf.Probe(p)
			if err != nil {
				return err
			}
			res := probeResult{
				Path:            p,
				Version:         m.Version,
				Architecture:    m.Architecture(),
				Name:            m.Name(),
				FileType:        m.FileType().String(),
				ParameterCount:  m.ParameterCount(),
				ContextLength:   m.ContextLength(),
				EmbeddingLength: m.EmbeddingLength(),
				BlockCount:      m.BlockCount(),
				VocabSize:       m.VocabSize(),
				TensorCount:     m.TensorCount,
				KVCount:         m.KVCount,
			}
			if withKV {
				res.KV = make(map[string]any, len(m.KV))
				for k, v := range m.KV {
					if av, ok := v.(gguf.ArrayValue); ok {
						v = fmt.Sprintf("[%d items]", av.Len)
					}
					res.KV[k] = v
				}
			}
			return writeJSON(a.out, res)
		},
	}
	cmd.Flags().BoolVar(&withKV, "kv", false, "Include every header key (arrays summarized)")
	return cmd
}

func newModelsCmd(a *app) *cobra.Command {
	var dir string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List GGUF files in a directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.ModelsDir
			}
			if dir == "" {
				dir = "~/models/llm"
			}
			s := registry.NewScanner(0)
			defer s.Close()
			files, err := s.Scan(cmd.Context(), dir)
			if err != nil {
				return err
			}
			if asJSON {
				if files == nil {
					files = []types.ModelFile{}
				}
				return writeJSON(a.out, types.ModelsResponse{Models: files})
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tARCH\tTYPE\tPARAMS\tSIZE\tERROR")
			for _, f := range files {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", f.ID, dash(f.Architecture), dash(f.FileType), humanCount(f.ParameterCount), humanBytes(f.SizeBytes), f.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to scan (defaults to models_dir or ~/models/llm)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file.gguf>",
		Short: "Load a model through the bridge and print its info",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, h, err := a.loadOne(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer b.Cleanup()
			info, err := b.Info(h)
			if err != nil {
				return err
			}
			return writeJSON(a.out, info)
		},
	}
}

func newGenerateCmd(a *app) *cobra.Command {
	var (
		req     bridge.GenerateRequest
		stream  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "generate <file.gguf>",
		Short:   "Load a model and run one generation",
		Example: "  bridgectl generate tiny.gguf --prompt 'Write a haiku' --max-tokens 64 --stream",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(req.Prompt) == "" {
				return fmt.Errorf("--prompt is required")
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			b, h, err := a.loadOne(ctx, args[0])
			if err != nil {
				return err
			}
			defer b.Cleanup()

			var onToken func(string) error
			if stream {
				onToken = func(s string) error {
					_, err := io.WriteString(a.out, s)
					return err
				}
			}
			res, err := b.GenerateWith(ctx, h, req, onToken)
			if err != nil {
				return err
			}
			if !stream {
				_, _ = io.WriteString(a.out, res.Content)
			}
			fmt.Fprintln(a.out)
			a.log.Info().Int("tokens", res.Tokens).Str("finish", res.FinishReason).Dur("dur", res.Duration).Msg("generated")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.Prompt, "prompt", "p", "", "Prompt text")
	f.IntVarP(&req.MaxTokens, "max-tokens", "n", 128, "Maximum new tokens")
	f.Float32Var(&req.Temperature, "temperature", 0, "Sampling temperature (0 = config default)")
	f.Float32Var(&req.TopP, "top-p", 0, "Nucleus sampling p")
	f.IntVar(&req.TopK, "top-k", 0, "Top-k sampling")
	f.Float32Var(&req.RepeatPenalty, "repeat-penalty", 0, "Repetition penalty")
	f.IntVar(&req.Seed, "seed", 0, "Sampling seed")
	f.StringSliceVar(&req.Stop, "stop", nil, "Stop sequences")
	f.BoolVar(&stream, "stream", false, "Print tokens as they are produced")
	f.DurationVar(&timeout, "timeout", 0, "Abort the generation after this long")
	return cmd
}

// loadOne initializes a fresh bridge and loads path into it. The caller owns
// the returned bridge and must Cleanup it.
func (a *app) loadOne(ctx context.Context, path string) (*bridge.Bridge, bridge.Handle, error) {
	b := a.newBridge(nil)
	if err := b.Initialize(ctx); err != nil {
		return nil, 0, err
	}
	h, err := b.Load(ctx, path)
	if err != nil {
		b.Cleanup()
		return nil, 0, err
	}
	return b, h, nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// humanCount formats a parameter count like 1.1B or 350M.
func humanCount(n uint64) string {
	units := []struct {
		div    float64
		suffix string
	}{{1e12, "T"}, {1e9, "B"}, {1e6, "M"}, {1e3, "K"}}
	for _, u := range units {
		if float64(n) >= u.div {
			return fmt.Sprintf("%.1f%s", float64(n)/u.div, u.suffix)
		}
	}
	if n == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
