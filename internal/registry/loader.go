// Package registry discovers GGUF model files on disk.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/errgroup"

	"llamabridge/internal/common/fsutil"
	"llamabridge/internal/gguf"
	"llamabridge/pkg/types"
)

const defaultProbeTTL = 10 * time.Minute

// Scanner lists *.gguf files in a directory and reads their headers. Probe
// results are cached per path, size and modification time, so rescanning a
// large models directory only reads files that changed.
type Scanner struct {
	cache *ttlcache.Cache[string, types.ModelFile]
	limit int
}

// NewScanner creates a Scanner whose cached probes expire after ttl
// (0 selects the default).
func NewScanner(ttl time.Duration) *Scanner {
	if ttl <= 0 {
		ttl = defaultProbeTTL
	}
	c := ttlcache.New[string, types.ModelFile](
		ttlcache.WithTTL[string, types.ModelFile](ttl),
		ttlcache.WithDisableTouchOnHit[string, types.ModelFile](),
	)
	go c.Start()
	return &Scanner{cache: c, limit: runtime.NumCPU()}
}

// Close stops the cache expiration loop.
func (s *Scanner) Close() {
	s.cache.Stop()
}

// Cached returns the number of probe results currently cached.
func (s *Scanner) Cached() int { return s.cache.Len() }

// Scan returns the GGUF files in dir sorted by ID. Files that fail to parse
// are listed with Error set rather than failing the scan.
func (s *Scanner) Scan(ctx context.Context, dir string) ([]types.ModelFile, error) {
	abs, err := fsutil.Resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".gguf") {
			continue
		}
		names = append(names, e.Name())
	}

	out := make([]types.ModelFile, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = s.probe(filepath.Join(abs, name))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Scanner) probe(path string) types.ModelFile {
	name := filepath.Base(path)
	mf := types.ModelFile{ID: name, Name: name, Path: path}
	fi, err := os.Stat(path)
	if err != nil {
		mf.Error = err.Error()
		return mf
	}
	mf.SizeBytes = fi.Size()

	key := fmt.Sprintf("%s|%d|%d", path, fi.Size(), fi.ModTime().UnixNano())
	if item := s.cache.Get(key); item != nil {
		return item.Value()
	}

	meta, err := gguf.Probe(path)
	if err != nil {
		mf.Error = err.Error()
	} else {
		if n := meta.Name(); n != "" {
			mf.Name = n
		}
		mf.Architecture = meta.Architecture()
		mf.FileType = meta.FileType().String()
		mf.ParameterCount = meta.ParameterCount()
	}
	s.cache.Set(key, mf, ttlcache.DefaultTTL)
	return mf
}

// LoadDir scans dir once without keeping a cache.
func LoadDir(dir string) ([]types.ModelFile, error) {
	s := NewScanner(0)
	defer s.Close()
	return s.Scan(context.Background(), dir)
}
