// Package overload classifies estimates against legal load limits.
package overload

import (
	"fmt"

	"tonnage-service/internal/domain/tonnage"
)

// Evaluate compares an estimate against a vehicle's legal limit.
//
// margin = estimate - legal max. Beyond the tolerance band the verdict is
// Fail (over) or Pass (under); inside the band it is Uncertain, surfaced
// distinctly so a borderline load is never silently treated as compliant.
// An estimate whose confidence is below minConfidence is forced to Uncertain
// regardless of margin. Pure and deterministic.
func Evaluate(est tonnage.EstimationResult, limit tonnage.VehicleLimit, minConfidence float64) tonnage.OverloadVerdict {
	margin := est.PointEstimateKg - limit.LegalMaxKg
	tolerance := limit.ToleranceKgFor()

	verdict := tonnage.OverloadVerdict{
		MarginKg:   margin,
		Confidence: est.Confidence,
	}
	if limit.LegalMaxKg > 0 {
		verdict.LoadRatioPercent = est.PointEstimateKg / limit.LegalMaxKg * 100
	}

	if est.Confidence < minConfidence {
		verdict.Verdict = tonnage.VerdictUncertain
		verdict.Reason = fmt.Sprintf("confidence %.3f below threshold %.3f", est.Confidence, minConfidence)
		return verdict
	}

	switch {
	case margin > tolerance:
		verdict.Verdict = tonnage.VerdictFail
		verdict.Reason = fmt.Sprintf("estimate exceeds legal max by %.1f kg (tolerance %.1f kg)", margin, tolerance)
	case margin < -tolerance:
		verdict.Verdict = tonnage.VerdictPass
	default:
		verdict.Verdict = tonnage.VerdictUncertain
		verdict.Reason = fmt.Sprintf("estimate within %.1f kg measurement tolerance of the legal limit", tolerance)
	}
	return verdict
}
