package forest

import (
	"encoding/json"
	"testing"

	"github.com/fraudguard/fraud-filter/pkg/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(p float64) *Node { return &Node{T: "l", V: p} }

func split(feature string, threshold float64, l, r *Node) *Node {
	return &Node{T: "n", F: feature, V: threshold, L: l, R: r}
}

func twoTreeForest() *Forest {
	return &Forest{
		Meta: Meta{
			Version:   "rf-test-1",
			Features:  []string{features.DigitRatio, features.Entropy},
			TreeCount: 2,
		},
		Trees: []*Node{
			split(features.DigitRatio, 0.5, leaf(0.1), leaf(0.9)),
			split(features.Entropy, 0.7, leaf(0.2), leaf(0.8)),
		},
	}
}

func TestEvaluateMeanOfLeaves(t *testing.T) {
	f := twoTreeForest()

	v := features.Vector{features.DigitRatio: 0.2, features.Entropy: 0.9}
	// Tree 1: 0.2 <= 0.5 -> 0.1. Tree 2: 0.9 > 0.7 -> 0.8.
	assert.InDelta(t, 0.45, f.Evaluate(v), 1e-9)
}

func TestEvaluateBoundaryGoesLeft(t *testing.T) {
	f := &Forest{
		Meta:  Meta{Version: "rf-test"},
		Trees: []*Node{split(features.DigitRatio, 0.5, leaf(0.0), leaf(1.0))},
	}

	// scikit-learn convention: value <= threshold goes left.
	assert.Equal(t, 0.0, f.Evaluate(features.Vector{features.DigitRatio: 0.5}))
	assert.Equal(t, 1.0, f.Evaluate(features.Vector{features.DigitRatio: 0.500001}))
}

func TestEvaluateMissingFeatureTreatedAsZero(t *testing.T) {
	f := twoTreeForest()

	// Empty vector: both splits see 0, both go left.
	score := f.Evaluate(features.Vector{})
	assert.InDelta(t, 0.15, score, 1e-9)
}

func TestEvaluateScoreInRange(t *testing.T) {
	f := twoTreeForest()

	vectors := []features.Vector{
		{},
		{features.DigitRatio: -5, features.Entropy: 99},
		{features.DigitRatio: 1, features.Entropy: 0},
	}
	for _, v := range vectors {
		score := f.Evaluate(v)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

func TestDepthCapTerminates(t *testing.T) {
	// A cyclic node graph must still terminate via the depth cap.
	n := split(features.Entropy, 0.5, nil, nil)
	n.L = n
	n.R = n

	f := &Forest{Meta: Meta{Version: "rf-cyclic"}, Trees: []*Node{n}}
	score := f.Evaluate(features.Vector{features.Entropy: 0.1})
	assert.Equal(t, 0.5, score)
}

func TestDepthCapFromConfig(t *testing.T) {
	f := twoTreeForest()
	f.Meta.Config = &Config{MaxDepth: 10}
	assert.Equal(t, 10, f.depthCap())

	f.Meta.Config = &Config{MaxDepth: 500}
	assert.Equal(t, hardDepthCap, f.depthCap())

	f.Meta.Config = nil
	assert.Equal(t, hardDepthCap, f.depthCap())
}

func TestCalibration(t *testing.T) {
	f := twoTreeForest()
	f.Meta.Calibration = &Calibration{Intercept: -2, Coef: 4, Samples: 1000}

	calibrated, used := f.Calibrated(0.5)
	assert.True(t, used)
	assert.InDelta(t, 0.5, calibrated, 1e-9) // sigmoid(0)

	calibrated, used = f.Calibrated(1.0)
	assert.True(t, used)
	assert.Greater(t, calibrated, 0.85)
}

func TestCalibrationAbsent(t *testing.T) {
	f := twoTreeForest()

	score, used := f.Calibrated(0.7)
	assert.False(t, used)
	assert.Equal(t, 0.7, score)
}

func TestValidateRejectsInvertedCalibration(t *testing.T) {
	f := twoTreeForest()
	f.Meta.Calibration = &Calibration{Intercept: 1, Coef: -0.5}

	err := f.Validate()
	require.ErrorIs(t, err, ErrCalibrationInvalid)

	// Calibration is stripped; the forest remains usable.
	assert.Nil(t, f.Meta.Calibration)
	_, used := f.Calibrated(0.5)
	assert.False(t, used)
}

func TestValidateEmptyForest(t *testing.T) {
	f := &Forest{}
	assert.Error(t, f.Validate())
}

func TestUnmarshalArtifactFormat(t *testing.T) {
	raw := `{
		"meta": {
			"version": "rf-2026-01",
			"features": ["digit_ratio", "entropy"],
			"tree_count": 1,
			"calibration": {"intercept": -1.2, "coef": 3.4, "samples": 5000},
			"config": {"max_depth": 12}
		},
		"forest": [
			{"t": "n", "f": "digit_ratio", "v": 0.3,
			 "l": {"t": "l", "v": 0.05},
			 "r": {"t": "l", "v": 0.95}}
		]
	}`

	var f Forest
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	require.NoError(t, f.Validate())

	assert.Equal(t, "rf-2026-01", f.Meta.Version)
	assert.Equal(t, 12, f.Meta.Config.MaxDepth)
	assert.InDelta(t, 0.95, f.Evaluate(features.Vector{features.DigitRatio: 0.9}), 1e-9)
	assert.InDelta(t, 0.05, f.Evaluate(features.Vector{features.DigitRatio: 0.1}), 1e-9)
}
