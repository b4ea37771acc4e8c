package filter

import (
	"math"

	"github.com/fraudguard/fraud-filter/pkg/artifacts"
	"github.com/fraudguard/fraud-filter/pkg/forest"
	"github.com/fraudguard/fraud-filter/pkg/markov"
)

// Domain lane constants
const (
	disposableBump = 0.20
	domainRiskCap  = 0.4
)

// shortLocalGuardrail dampens the abnormality lane for short local parts.
// Short strings are naturally high-entropy and must not be punished: length
// 4 and below zeroes the lane, 5 through 11 scale it linearly.
func shortLocalGuardrail(risk float64, localLen int) float64 {
	if localLen <= 4 {
		return 0
	}
	if localLen < 12 {
		risk *= float64(localLen-4) / 8
	}
	return clamp01(risk)
}

// classificationLane maps the Markov verdict to risk. Calibration, when
// present, is boost-only: it can raise the lane above the raw confidence but
// never below it.
func classificationLane(res *markov.Result, cal *forest.Calibration) (float64, CalibrationMeta) {
	meta := CalibrationMeta{}
	if cal != nil && cal.Coef > 0 {
		meta.CalibrationUsed = true
		meta.Version = cal.Version
		meta.CreatedAt = cal.CreatedAt
		meta.Metrics = cal.Metrics
	}

	if res == nil || res.Prediction != markov.PredictFraud {
		return 0, meta
	}

	risk := res.Confidence
	if meta.CalibrationUsed {
		calibrated := cal.Apply(res.Confidence)
		if calibrated > risk {
			meta.CalibrationBoosted = true
			meta.BoostAmount = calibrated - risk
			risk = calibrated
		}
	}
	return clamp01(risk), meta
}

// domainLane combines TLD risk with the disposable bump, capped
func domainLane(tldRisk float64, disposable bool) float64 {
	risk := tldRisk
	if disposable {
		risk += disposableBump
	}
	if risk > domainRiskCap {
		risk = domainRiskCap
	}
	if risk < 0 {
		risk = 0
	}
	return risk
}

// combine synthesizes the final score: the strongest model lane, plus the
// additive domain and heuristic lanes, minus the whitelist reduction.
func combine(l *Lanes) float64 {
	model := math.Max(l.Classification, math.Max(l.Abnormality, l.Forest))
	l.PreWhitelist = math.Min(1, model+l.Domain+l.Heuristic)
	return math.Max(0, l.PreWhitelist-l.WhitelistReduction)
}

// degradedFloor is the score applied when Markov models cannot be evaluated
func degradedFloor(th artifacts.Thresholds) float64 {
	return math.Max(th.Warn+0.01, 0.8*th.Block)
}

// decide maps a score to a decision against the configured thresholds
func decide(score float64, th artifacts.Thresholds) string {
	switch {
	case score >= th.Block:
		return DecisionBlock
	case score >= th.Warn:
		return DecisionWarn
	default:
		return DecisionAllow
	}
}

// blockReason picks the highest-precedence triggering lane. The order is
// fixed: disposable, classification, OOD, forest, heuristic, domain.
func blockReason(l Lanes, disposable bool, th artifacts.Thresholds) string {
	switch {
	case disposable:
		return ReasonDisposable
	case l.Classification >= th.Warn:
		return ReasonClassification
	case l.Abnormality >= th.Warn:
		return ReasonOOD
	case l.Forest >= th.Warn:
		return ReasonForest
	case l.Heuristic > 0:
		return ReasonHeuristic
	case l.Domain > 0:
		return ReasonDomain
	}

	// Nothing individually crossed the warn line; name the largest lane.
	switch largest := math.Max(l.Classification, math.Max(l.Abnormality, math.Max(l.Forest, math.Max(l.Heuristic, l.Domain)))); largest {
	case l.Classification:
		return ReasonClassification
	case l.Abnormality:
		return ReasonOOD
	case l.Forest:
		return ReasonForest
	case l.Heuristic:
		return ReasonHeuristic
	default:
		return ReasonDomain
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
