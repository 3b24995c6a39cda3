package estuary

// BatchSizeProvider supplies the maximum number of events replayed per batch.
// It is read before every batch so the value may change while running.
type BatchSizeProvider interface {
	BatchSize() int
}

// ConstantBatchSizeProvider always returns the same batch size
type ConstantBatchSizeProvider int

func (p ConstantBatchSizeProvider) BatchSize() int { return int(p) }

// BatchSizeSource is anything exposing a live batch size, such as a config.Watcher
type BatchSizeSource interface {
	BatchSize() int
}

// ConfigBatchSizeProvider follows the hot-reloaded configuration and falls
// back to a fixed size when the source reports a non-positive value
type ConfigBatchSizeProvider struct {
	source   BatchSizeSource
	fallback int
}

// NewConfigBatchSizeProvider creates a provider backed by source
func NewConfigBatchSizeProvider(source BatchSizeSource, fallback int) *ConfigBatchSizeProvider {
	return &ConfigBatchSizeProvider{source: source, fallback: fallback}
}

func (p *ConfigBatchSizeProvider) BatchSize() int {
	if p.source != nil {
		if size := p.source.BatchSize(); size > 0 {
			return size
		}
	}
	return p.fallback
}
