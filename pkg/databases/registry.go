package databases

import (
	"fmt"

	"github.com/murtaza-nasir/maestro-sub003/pkg/config"
)

// NewVectorStoreFromConfig builds the configured backend.
func NewVectorStoreFromConfig(cfg *config.VectorStoreConfig) (VectorStore, error) {
	switch cfg.Type {
	case "pgvector":
		return NewPgVectorStoreFromConfig(cfg)
	case "qdrant":
		return NewQdrantStoreFromConfig(cfg)
	case "chromem":
		return NewChromemStoreFromConfig(cfg)
	default:
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
}
