package forest

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/fraudguard/fraud-filter/pkg/features"
)

// Node kinds in the serialized tree format
const (
	kindLeaf = "l"
	kindNode = "n"
)

// hardDepthCap bounds traversal regardless of what the artifact claims
const hardDepthCap = 50

// ErrCalibrationInvalid marks a calibration block rejected at load time.
// Evaluation then falls back to raw scores.
var ErrCalibrationInvalid = errors.New("calibration invalid")

// Node is one tree node: a leaf carrying a probability, or an internal
// split on a named feature.
type Node struct {
	T string  `json:"t"`
	V float64 `json:"v"`
	F string  `json:"f,omitempty"`
	L *Node   `json:"l,omitempty"`
	R *Node   `json:"r,omitempty"`
}

// Calibration is a Platt rescaling block trained alongside the forest
type Calibration struct {
	Version      string             `json:"version,omitempty"`
	CreatedAt    string             `json:"createdAt,omitempty"`
	Intercept    float64            `json:"intercept"`
	Coef         float64            `json:"coef"`
	FeatureOrder []string           `json:"featureOrder,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Samples      int                `json:"samples,omitempty"`
}

// Config carries optional evaluator settings persisted with the model
type Config struct {
	MaxDepth int `json:"max_depth,omitempty"`
}

// Meta describes the forest artifact
type Meta struct {
	Version     string       `json:"version"`
	Features    []string     `json:"features"`
	TreeCount   int          `json:"tree_count"`
	Calibration *Calibration `json:"calibration,omitempty"`
	Config      *Config      `json:"config,omitempty"`
}

// Forest is a serialized random forest plus its metadata
type Forest struct {
	Meta  Meta    `json:"meta"`
	Trees []*Node `json:"forest"`

	warnMissing sync.Once
}

// Validate checks artifact sanity after load. A calibration block with a
// non-positive coefficient is stripped and ErrCalibrationInvalid returned;
// the forest itself stays usable.
func (f *Forest) Validate() error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for i, tree := range f.Trees {
		if tree == nil {
			return fmt.Errorf("tree %d is nil", i)
		}
	}

	if cal := f.Meta.Calibration; cal != nil && cal.Coef <= 0 {
		f.Meta.Calibration = nil
		return fmt.Errorf("%w: coef %.4f", ErrCalibrationInvalid, cal.Coef)
	}
	return nil
}

// depthCap returns the traversal bound for this forest
func (f *Forest) depthCap() int {
	if f.Meta.Config != nil && f.Meta.Config.MaxDepth > 0 && f.Meta.Config.MaxDepth < hardDepthCap {
		return f.Meta.Config.MaxDepth
	}
	return hardDepthCap
}

// Evaluate traverses every tree and returns the mean leaf probability in
// [0,1]. Missing features evaluate as 0 (scikit-learn convention: go left
// when value <= threshold).
func (f *Forest) Evaluate(v features.Vector) float64 {
	if len(f.Trees) == 0 {
		return 0
	}

	maxDepth := f.depthCap()
	var sum float64
	for _, tree := range f.Trees {
		sum += f.evalTree(tree, v, maxDepth)
	}

	score := sum / float64(len(f.Trees))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// evalTree walks one tree iteratively down to a leaf
func (f *Forest) evalTree(node *Node, v features.Vector, depthCap int) float64 {
	for depth := 0; node != nil && depth < depthCap; depth++ {
		if node.T == kindLeaf {
			return node.V
		}

		value, ok := v.Lookup(node.F)
		if !ok {
			f.warnMissing.Do(func() {
				log.Printf("forest: feature %q missing from vector, evaluating as 0 (model %s)",
					node.F, f.Meta.Version)
			})
			value = 0
		}

		if value <= node.V {
			node = node.L
		} else {
			node = node.R
		}
	}

	// Depth cap hit or malformed tree: treat as an uninformative leaf.
	if node != nil && node.T == kindLeaf {
		return node.V
	}
	return 0.5
}

// Calibrated applies Platt scaling to a raw forest score. The second return
// reports whether calibration was applied.
func (f *Forest) Calibrated(score float64) (float64, bool) {
	cal := f.Meta.Calibration
	if cal == nil || cal.Coef <= 0 {
		return score, false
	}
	return cal.Apply(score), true
}

// Apply returns the Platt-scaled probability for a raw score
func (c *Calibration) Apply(score float64) float64 {
	return sigmoid(c.Intercept + c.Coef*score)
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
