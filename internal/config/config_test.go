package config

import (
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chunking.TargetSize != 450 {
		t.Errorf("TargetSize = %d, want 450", cfg.Chunking.TargetSize)
	}
	if cfg.Retrieval.WeightVector != 0.40 || cfg.Retrieval.WeightLexical != 0.40 || cfg.Retrieval.WeightRecency != 0.10 {
		t.Errorf("unexpected default weights: %+v", cfg.Retrieval)
	}
	if cfg.VectorIndexBackend != "fallback" {
		t.Errorf("VectorIndexBackend = %q, want fallback", cfg.VectorIndexBackend)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHUNK_TARGET_SIZE", "600")
	t.Setenv("SCORE_WEIGHT_VECTOR", "0.5")
	t.Setenv("VECTOR_INDEX_BACKEND", "qdrant")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chunking.TargetSize != 600 {
		t.Errorf("TargetSize = %d, want 600", cfg.Chunking.TargetSize)
	}
	if cfg.Retrieval.WeightVector != 0.5 {
		t.Errorf("WeightVector = %v, want 0.5", cfg.Retrieval.WeightVector)
	}
	if cfg.VectorIndexBackend != "qdrant" {
		t.Errorf("VectorIndexBackend = %q, want qdrant", cfg.VectorIndexBackend)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v, want 2 entries", cfg.Kafka.Brokers)
	}
}

func TestVertexConfigured(t *testing.T) {
	v := VertexConfig{}
	if v.Configured() {
		t.Error("empty VertexConfig should not be configured")
	}
	v = VertexConfig{
		IndexEndpointResource: "projects/p/locations/us-central1/indexEndpoints/123",
		DeployedIndexID:       "idx-1",
	}
	if !v.Configured() {
		t.Error("fully populated VertexConfig should be configured")
	}
}

// clearEnv is a no-op placeholder kept for symmetry with the env-override
// test above; t.Setenv already scopes overrides to the current test.
func clearEnv(t *testing.T) {
	t.Helper()
}
