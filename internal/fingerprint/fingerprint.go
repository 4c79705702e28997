// Package fingerprint derives stable cache keys for analysis requests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"tonnage-service/internal/domain/tonnage"
)

var ErrInvalidInput = errors.New("invalid input")

// Derive computes the analysis fingerprint for an image and the active
// inference configuration. The same (content, config) pair always yields the
// same fingerprint, across calls and process restarts; any configuration
// change yields a different one.
func Derive(imageContent []byte, cfg tonnage.InferenceConfig) (string, error) {
	if len(imageContent) == 0 {
		return "", fmt.Errorf("%w: image content is empty", ErrInvalidInput)
	}

	h := sha256.New()
	h.Write(imageContent)
	h.Write([]byte{0})
	h.Write([]byte(canonicalConfig(cfg)))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalConfig encodes the configuration fields in a fixed order so the
// encoding is independent of struct layout changes.
func canonicalConfig(cfg tonnage.InferenceConfig) string {
	return "ensemble_size=" + strconv.Itoa(cfg.EnsembleSize) +
		";min_confidence=" + formatFloat(cfg.MinConfidence) +
		";model_id=" + cfg.ModelID +
		";overload_tolerance_kg=" + formatFloat(cfg.OverloadToleranceKg)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
