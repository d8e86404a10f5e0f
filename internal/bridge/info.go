package bridge

import (
	"path/filepath"
	"strings"

	"llamabridge/pkg/types"
)

// Info describes the model identified by h (0 = active).
func (b *Bridge) Info(h Handle) (types.ModelInfo, error) {
	inst, err := b.lookup(opInfo, h)
	if err != nil {
		return types.ModelInfo{}, err
	}
	return b.describe(inst), nil
}

func (b *Bridge) describe(inst *Instance) types.ModelInfo {
	m := inst.Meta
	name := m.Name()
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(inst.Path), filepath.Ext(inst.Path))
	}
	return types.ModelInfo{
		Handle:          int64(inst.Handle),
		Path:            inst.Path,
		Name:            name,
		Architecture:    m.Architecture(),
		FileType:        m.FileType().String(),
		ParameterCount:  m.ParameterCount(),
		ContextLength:   m.ContextLength(),
		ContextSize:     b.cfg.ContextSize,
		EmbeddingLength: m.EmbeddingLength(),
		BlockCount:      m.BlockCount(),
		VocabSize:       m.VocabSize(),
		GGUFVersion:     m.Version,
		TensorCount:     m.TensorCount,
		SizeBytes:       inst.SizeBytes,
		EstMemoryMB:     inst.EstMB,
		Engine:          b.engine.Name(),
		LoadedAt:        inst.LoadedAt,
	}
}
