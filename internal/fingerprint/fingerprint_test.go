package fingerprint

import (
	"errors"
	"testing"

	"tonnage-service/internal/domain/tonnage"
)

func baseConfig() tonnage.InferenceConfig {
	return tonnage.InferenceConfig{
		ModelID:             "gemini-flash",
		EnsembleSize:        3,
		MinConfidence:       0.4,
		OverloadToleranceKg: 200,
	}
}

func TestDeriveDeterministic(t *testing.T) {
	image := []byte("truck photo bytes")

	first, err := Derive(image, baseConfig())
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	second, err := Derive(image, baseConfig())
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if first != second {
		t.Errorf("same inputs produced different fingerprints: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(first))
	}
}

func TestDeriveConfigSensitivity(t *testing.T) {
	image := []byte("truck photo bytes")
	base, err := Derive(image, baseConfig())
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*tonnage.InferenceConfig)
	}{
		{"model id", func(c *tonnage.InferenceConfig) { c.ModelID = "gemini-pro" }},
		{"ensemble size", func(c *tonnage.InferenceConfig) { c.EnsembleSize = 5 }},
		{"min confidence", func(c *tonnage.InferenceConfig) { c.MinConfidence = 0.5 }},
		{"tolerance", func(c *tonnage.InferenceConfig) { c.OverloadToleranceKg = 300 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			got, err := Derive(image, cfg)
			if err != nil {
				t.Fatalf("Derive returned error: %v", err)
			}
			if got == base {
				t.Errorf("changing %s did not change the fingerprint", tt.name)
			}
		})
	}
}

func TestDeriveContentSensitivity(t *testing.T) {
	a, err := Derive([]byte("image a"), baseConfig())
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	b, err := Derive([]byte("image b"), baseConfig())
	if err != nil {
		t.Fatalf("Derive returned error: %v", err)
	}
	if a == b {
		t.Error("different image content produced the same fingerprint")
	}
}

func TestDeriveEmptyImage(t *testing.T) {
	_, err := Derive(nil, baseConfig())
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Derive(nil) error = %v, want ErrInvalidInput", err)
	}
}
