package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fraudguard/fraud-filter/pkg/artifacts"
	"github.com/fraudguard/fraud-filter/pkg/forest"
	"github.com/fraudguard/fraud-filter/pkg/markov"
)

func TestShortLocalGuardrail(t *testing.T) {
	cases := []struct {
		localLen int
		in       float64
		want     float64
	}{
		{3, 0.65, 0},
		{4, 0.65, 0},
		{5, 0.64, 0.08},
		{8, 0.64, 0.32},
		{11, 0.64, 0.56},
		{12, 0.64, 0.64},
		{20, 0.64, 0.64},
	}

	for _, tc := range cases {
		assert.InDelta(t, tc.want, shortLocalGuardrail(tc.in, tc.localLen), 1e-9, "len %d", tc.localLen)
	}
}

func TestClassificationLaneBoostOnly(t *testing.T) {
	cal := &forest.Calibration{Version: "cal-1", Intercept: -1.0, Coef: 4.0}

	fraud := &markov.Result{Prediction: markov.PredictFraud, Confidence: 0.6}
	risk, meta := classificationLane(fraud, cal)

	assert.True(t, meta.CalibrationUsed)
	assert.GreaterOrEqual(t, risk, fraud.Confidence, "calibration never suppresses the raw confidence")
	if meta.CalibrationBoosted {
		assert.InDelta(t, risk-fraud.Confidence, meta.BoostAmount, 1e-9)
	}

	// A calibration that maps below the confidence is ignored.
	weak := &forest.Calibration{Intercept: -10, Coef: 1}
	risk, meta = classificationLane(fraud, weak)
	assert.Equal(t, fraud.Confidence, risk)
	assert.False(t, meta.CalibrationBoosted)

	// Legit predictions contribute nothing.
	legit := &markov.Result{Prediction: markov.PredictLegit, Confidence: 0.9}
	risk, _ = classificationLane(legit, cal)
	assert.Zero(t, risk)
}

func TestDomainLaneCap(t *testing.T) {
	assert.Equal(t, 0.0, domainLane(0, false))
	assert.InDelta(t, 0.20, domainLane(0, true), 1e-9)
	assert.InDelta(t, 0.30, domainLane(0.1, true), 1e-9)
	assert.InDelta(t, 0.40, domainLane(0.35, true), 1e-9, "capped at 0.4")
	assert.InDelta(t, 0.40, domainLane(0.9, false), 1e-9)
}

func TestCombine(t *testing.T) {
	lanes := Lanes{
		Classification: 0.5,
		Abnormality:    0.3,
		Forest:         0.6,
		Domain:         0.2,
		Heuristic:      0.1,
	}
	score := combine(&lanes)
	assert.InDelta(t, 0.9, score, 1e-9, "max model lane + domain + heuristic")
	assert.InDelta(t, 0.9, lanes.PreWhitelist, 1e-9)

	lanes.WhitelistReduction = 0.4
	assert.InDelta(t, 0.5, combine(&lanes), 1e-9)

	// Saturation at both ends.
	saturated := Lanes{Classification: 0.9, Domain: 0.4, Heuristic: 0.8}
	assert.Equal(t, 1.0, combine(&saturated))

	reducedOut := Lanes{Heuristic: 0.1, WhitelistReduction: 0.4}
	assert.Equal(t, 0.0, combine(&reducedOut))
}

func TestDecide(t *testing.T) {
	th := artifacts.DefaultThresholds()
	assert.Equal(t, DecisionAllow, decide(0.29, th))
	assert.Equal(t, DecisionWarn, decide(0.30, th))
	assert.Equal(t, DecisionWarn, decide(0.34, th))
	assert.Equal(t, DecisionBlock, decide(0.35, th))
	assert.Equal(t, DecisionBlock, decide(1.0, th))
}

func TestDegradedFloor(t *testing.T) {
	th := artifacts.DefaultThresholds()
	assert.InDelta(t, 0.31, degradedFloor(th), 1e-9)

	high := artifacts.Thresholds{Warn: 0.2, Block: 0.6}
	assert.InDelta(t, 0.48, degradedFloor(high), 1e-9)
}

func TestBlockReasonPrecedence(t *testing.T) {
	th := artifacts.DefaultThresholds()

	assert.Equal(t, ReasonDisposable, blockReason(Lanes{Classification: 0.9}, true, th))
	assert.Equal(t, ReasonClassification, blockReason(Lanes{Classification: 0.9, Abnormality: 0.9}, false, th))
	assert.Equal(t, ReasonOOD, blockReason(Lanes{Abnormality: 0.5, Forest: 0.5}, false, th))
	assert.Equal(t, ReasonForest, blockReason(Lanes{Forest: 0.5, Heuristic: 0.3}, false, th))
	assert.Equal(t, ReasonHeuristic, blockReason(Lanes{Heuristic: 0.2, Domain: 0.4}, false, th))
	assert.Equal(t, ReasonDomain, blockReason(Lanes{Domain: 0.25}, false, th))
}
