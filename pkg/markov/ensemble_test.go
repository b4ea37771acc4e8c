package markov

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainedPair(t *testing.T, order int, legitCorpus, fraudCorpus []string) *Pair {
	t.Helper()
	legit, err := NewModel(order)
	require.NoError(t, err)
	fraud, err := NewModel(order)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		for _, s := range legitCorpus {
			legit.Train(s)
		}
		for _, s := range fraudCorpus {
			fraud.Train(s)
		}
	}
	return &Pair{Legit: legit, Fraud: fraud}
}

var (
	legitCorpus = []string{
		"john.smith", "alice", "sarah.connor", "michael", "jennifer",
		"david.jones", "emily", "robert", "laura.palmer", "thomas",
	}
	fraudCorpus = []string{
		"xk9qz2w", "qwerty123", "zxcvbn99", "aaa111bbb", "kjhgfd",
		"x9z8y7", "qqqwww", "test12345", "asdfgh77", "mnbvcx",
	}
)

func testEnsemble(t *testing.T) *Ensemble {
	t.Helper()
	two := trainedPair(t, 2, legitCorpus, fraudCorpus)
	three := trainedPair(t, 3, legitCorpus, fraudCorpus)
	return NewEnsemble(two, three, DefaultThresholds(), DefaultOODThresholds())
}

func TestEnsembleDeterminism(t *testing.T) {
	e := testEnsemble(t)

	a := e.Evaluate("qwerty456")
	b := e.Evaluate("qwerty456")
	assert.Equal(t, a, b)
}

func TestEnsembleRecognizesTrainedShapes(t *testing.T) {
	e := testEnsemble(t)

	legit := e.Evaluate("john.smith")
	assert.Equal(t, PredictLegit, legit.Prediction)

	fraud := e.Evaluate("qwerty123")
	assert.Equal(t, PredictFraud, fraud.Prediction)
	assert.Greater(t, fraud.Confidence, 0.3)
}

func TestEnsembleTwoGramOnly(t *testing.T) {
	two := trainedPair(t, 2, legitCorpus, fraudCorpus)
	e := NewEnsemble(two, nil, DefaultThresholds(), DefaultOODThresholds())

	res := e.Evaluate("john.smith")
	assert.Equal(t, Reason2GramOnly, res.Reason)
	assert.Equal(t, 2, res.Order)
	assert.True(t, math.IsNaN(res.HLegit3))
	assert.True(t, math.IsNaN(res.HFraud3))
}

func TestEnsembleInvalidEntropyFallback(t *testing.T) {
	e := testEnsemble(t)

	// Too short to produce any transition under either order.
	res := e.Evaluate("a")
	assert.Equal(t, ReasonInvalidEntropy, res.Reason)
	assert.Equal(t, PredictLegit, res.Prediction)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, 0.0, res.AbnormalityRisk)
}

func TestArbitrateAgreement(t *testing.T) {
	e := NewEnsemble(nil, nil, DefaultThresholds(), DefaultOODThresholds())

	two := orderResult{prediction: PredictFraud, confidence: 0.5, hLegit: 6, hFraud: 4, order: 2}
	three := orderResult{prediction: PredictFraud, confidence: 0.8, hLegit: 7, hFraud: 4, order: 3}

	res := e.arbitrate(two, &three)
	assert.Equal(t, ReasonAgree, res.Reason)
	assert.Equal(t, 0.8, res.Confidence)
	// Entropies come from the more confident order.
	assert.Equal(t, 3, res.Order)
	assert.Equal(t, 7.0, res.HLegit)
}

func TestArbitrateThreeGramOverride(t *testing.T) {
	e := NewEnsemble(nil, nil, DefaultThresholds(), DefaultOODThresholds())

	two := orderResult{prediction: PredictLegit, confidence: 0.2, hLegit: 3, hFraud: 4, order: 2}
	three := orderResult{prediction: PredictFraud, confidence: 0.7, hLegit: 6, hFraud: 4, order: 3}

	res := e.arbitrate(two, &three)
	assert.Equal(t, Reason3GramOverride, res.Reason)
	assert.Equal(t, PredictFraud, res.Prediction)
	assert.Equal(t, 3, res.Order)
}

func TestArbitrateGibberishDetection(t *testing.T) {
	e := NewEnsemble(nil, nil, DefaultThresholds(), DefaultOODThresholds())

	// 2-gram says fraud with high fraud-side entropy; 3-gram disagrees but
	// is not confident enough to override.
	two := orderResult{prediction: PredictFraud, confidence: 0.25, hLegit: 8, hFraud: 6.5, order: 2}
	three := orderResult{prediction: PredictLegit, confidence: 0.3, hLegit: 5, hFraud: 5.5, order: 3}

	res := e.arbitrate(two, &three)
	assert.Equal(t, ReasonGibberish2Gram, res.Reason)
	assert.Equal(t, PredictFraud, res.Prediction)
}

func TestArbitrateDisagreementDefaultsToTwoGram(t *testing.T) {
	e := NewEnsemble(nil, nil, DefaultThresholds(), DefaultOODThresholds())

	two := orderResult{prediction: PredictLegit, confidence: 0.25, hLegit: 3, hFraud: 3.5, order: 2}
	three := orderResult{prediction: PredictFraud, confidence: 0.3, hLegit: 4, hFraud: 3.8, order: 3}

	res := e.arbitrate(two, &three)
	assert.Equal(t, ReasonDisagreeDefault, res.Reason)
	assert.Equal(t, 2, res.Order)
	assert.Equal(t, PredictLegit, res.Prediction)
}

func TestArbitrateWeakAgreementTakesHigherConfidence(t *testing.T) {
	e := NewEnsemble(nil, nil, DefaultThresholds(), DefaultOODThresholds())

	two := orderResult{prediction: PredictLegit, confidence: 0.1, hLegit: 3, hFraud: 3.2, order: 2}
	three := orderResult{prediction: PredictLegit, confidence: 0.25, hLegit: 3.1, hFraud: 3.4, order: 3}

	res := e.arbitrate(two, &three)
	assert.Equal(t, ReasonAgreeLowConf, res.Reason)
	assert.Equal(t, 3, res.Order)
}

func TestOODPiecewiseMapping(t *testing.T) {
	e := NewEnsemble(nil, nil, DefaultThresholds(), DefaultOODThresholds())

	cases := []struct {
		minEntropy float64
		risk       float64
		zone       string
	}{
		{2.0, 0, ZoneNone},
		{3.79, 0, ZoneNone},
		{3.8, 0.35, ZoneWarn},
		{4.65, 0.5, ZoneWarn},
		{5.5, 0.65, ZoneBlock},
		{9.0, 0.65, ZoneBlock},
	}

	for _, tc := range cases {
		res := Result{HLegit: tc.minEntropy, HFraud: tc.minEntropy + 1}
		e.scoreOOD(&res)
		assert.InDelta(t, tc.risk, res.AbnormalityRisk, 1e-9, "minEntropy=%f", tc.minEntropy)
		assert.Equal(t, tc.zone, res.OODZone, "minEntropy=%f", tc.minEntropy)
	}
}

func TestOrderConfidenceBounds(t *testing.T) {
	assert.Equal(t, 0.0, orderConfidence(3, 3))
	assert.Equal(t, 1.0, orderConfidence(8, 1))
	assert.Equal(t, 0.0, orderConfidence(math.Inf(1), 2))

	conf := orderConfidence(4, 3)
	assert.InDelta(t, 0.5, conf, 1e-9)
}
