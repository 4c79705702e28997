// Package merge combines raw vision readings into a single ensemble estimate.
package merge

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"tonnage-service/internal/domain/tonnage"
)

var (
	ErrEmptyEnsemble = errors.New("empty ensemble")
	ErrInvalidInput  = errors.New("invalid input")
)

// neutralConfidence is assigned when no reading in the batch reports a
// confidence at all.
const neutralConfidence = 0.5

// Merge combines raw readings into one EstimationResult tagged with source.
//
// A single reading passes through verbatim. For larger batches the point
// estimate is the confidence-weighted mean and the disagreement is the
// weighted population standard deviation around it. The merged confidence is
// the mean input confidence scaled by exp(-spread), where spread is the
// disagreement relative to the point estimate, so it decreases monotonically
// with disagreement and stays inside [0,1].
//
// Readings with no confidence inherit the lowest confidence observed in the
// batch; a batch with no confidences at all uses a neutral 0.5.
func Merge(readings []tonnage.Reading, source string) (tonnage.EstimationResult, error) {
	if len(readings) == 0 {
		return tonnage.EstimationResult{}, ErrEmptyEnsemble
	}

	for i, r := range readings {
		if r.WeightKg < 0 {
			return tonnage.EstimationResult{}, fmt.Errorf("%w: reading %d has negative weight %.2f", ErrInvalidInput, i, r.WeightKg)
		}
		if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
			return tonnage.EstimationResult{}, fmt.Errorf("%w: reading %d has confidence %.3f outside [0,1]", ErrInvalidInput, i, *r.Confidence)
		}
	}

	confidences := resolveConfidences(readings)

	if len(readings) == 1 {
		return tonnage.EstimationResult{
			PointEstimateKg: readings[0].WeightKg,
			Confidence:      confidences[0],
			SampleCount:     1,
			DisagreementKg:  0,
			SourceTag:       source,
		}, nil
	}

	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.WeightKg
	}

	weights := confidences
	if floatsSum(weights) == 0 {
		// all-zero confidence batch: fall back to an unweighted mean
		weights = nil
	}

	point := stat.Mean(values, weights)
	disagreement := weightedPopStdDev(values, weights, point)

	meanConf := floatsSum(confidences) / float64(len(confidences))
	merged := meanConf * spreadPenalty(disagreement, point)

	return tonnage.EstimationResult{
		PointEstimateKg: point,
		Confidence:      clamp01(merged),
		SampleCount:     len(readings),
		DisagreementKg:  disagreement,
		SourceTag:       fmt.Sprintf("%s:ensemble(%d)", source, len(readings)),
	}, nil
}

// resolveConfidences fills missing confidences with the lowest observed value
// in the batch, or a neutral default when nothing was observed.
func resolveConfidences(readings []tonnage.Reading) []float64 {
	lowest := math.Inf(1)
	seen := false
	for _, r := range readings {
		if r.Confidence != nil {
			seen = true
			if *r.Confidence < lowest {
				lowest = *r.Confidence
			}
		}
	}
	if !seen {
		lowest = neutralConfidence
	}

	out := make([]float64, len(readings))
	for i, r := range readings {
		if r.Confidence != nil {
			out[i] = *r.Confidence
		} else {
			out[i] = lowest
		}
	}
	return out
}

// spreadPenalty is the disagreement penalty: exponential decay in the spread
// normalized by the point estimate. Monotonic non-increasing, range (0,1].
func spreadPenalty(disagreement, point float64) float64 {
	spread := disagreement
	if point > 0 {
		spread = disagreement / point
	}
	return math.Exp(-spread)
}

// weightedPopStdDev is the population standard deviation around mean, with
// the given weights (nil means equal weights). The population form keeps two
// equally confident readings at +/-d reporting a disagreement of exactly d,
// which matters for audit reproducibility.
func weightedPopStdDev(values, weights []float64, mean float64) float64 {
	var sum, wsum float64
	for i, v := range values {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		d := v - mean
		sum += w * d * d
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return math.Sqrt(sum / wsum)
}

func floatsSum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
