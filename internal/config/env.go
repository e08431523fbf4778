package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ApplyEnv overrides cfg with the environment variables understood by the
// server. getenv is usually os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v := strings.TrimSpace(getenv(name))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", name, v, err)
		}
		*dst = n
		return nil
	}

	str("OPENAI_API_KEY", &cfg.Embedding.APIKey)
	str("OPENAI_API_KEY", &cfg.LLM.APIKey)
	str("OPENAI_BASE_URL", &cfg.Embedding.BaseURL)
	str("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	str("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	str("EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("INDEX_BACKEND", &cfg.Index.Backend)

	for _, n := range []struct {
		name string
		dst  *int
	}{
		{"SEARCH_TOP_K", &cfg.Search.DefaultTopK},
		{"CHUNK_SIZE", &cfg.Search.ChunkSize},
		{"CHUNK_OVERLAP", &cfg.Search.ChunkOverlap},
		{"EMBEDDING_DIM", &cfg.Embedding.Dimensions},
		{"EMBEDDING_CONCURRENCY", &cfg.Embedding.Concurrency},
		{"FAISS_NLIST", &cfg.Index.NList},
		{"FAISS_NPROBE", &cfg.Index.NProbe},
		{"FAISS_MIN_TRAIN", &cfg.Index.MinTrain},
	} {
		if err := num(n.name, n.dst); err != nil {
			return err
		}
	}
	return nil
}
