package markov

import "math"

// Prediction labels
const (
	PredictLegit = "legit"
	PredictFraud = "fraud"
)

// Ensemble reasoning tokens, persisted with each validation record
const (
	ReasonInvalidEntropy  = "invalid_entropy_fallback"
	Reason2GramOnly       = "2gram_only"
	ReasonAgree           = "ensemble_agree"
	Reason3GramOverride   = "3gram_override"
	ReasonGibberish2Gram  = "gibberish_2gram"
	ReasonDisagreeDefault = "disagree_default_2gram"
	ReasonAgreeLowConf    = "agree_low_confidence"
)

// OOD zones
const (
	ZoneNone  = "none"
	ZoneWarn  = "warn"
	ZoneBlock = "block"
)

// Pair couples the legitimate and fraud models of one n-gram order
type Pair struct {
	Legit *Model
	Fraud *Model
}

// Thresholds drive ensemble arbitration. Values arrive from the config
// artifact; zero values are replaced by defaults.
type Thresholds struct {
	AgreeMin         float64 `json:"agree"`
	Override3Min     float64 `json:"override3"`
	OverrideRatio    float64 `json:"overrideRatio"`
	GibberishEntropy float64 `json:"gibberishEntropy"`
	Gibberish2Min    float64 `json:"gibberish2Min"`
}

// OODThresholds map the minimum cross-entropy to abnormality risk
type OODThresholds struct {
	WarnZoneMin    float64 `json:"warnZoneMin"`
	MaxRisk        float64 `json:"maxRisk"`
	WarnThreshold  float64 `json:"warnThreshold"`
	BlockThreshold float64 `json:"blockThreshold"`
}

// DefaultThresholds returns the tuned arbitration defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		AgreeMin:         0.3,
		Override3Min:     0.5,
		OverrideRatio:    1.5,
		GibberishEntropy: 6.0,
		Gibberish2Min:    0.2,
	}
}

// DefaultOODThresholds returns the tuned out-of-distribution defaults
func DefaultOODThresholds() OODThresholds {
	return OODThresholds{
		WarnZoneMin:    0.35,
		MaxRisk:        0.65,
		WarnThreshold:  3.8,
		BlockThreshold: 5.5,
	}
}

// Ensemble evaluates the 2-gram pair and, when available, the 3-gram pair,
// and arbitrates between them deterministically.
type Ensemble struct {
	TwoGram    *Pair
	ThreeGram  *Pair // optional
	Thresholds Thresholds
	OOD        OODThresholds
}

// Result is the ensemble verdict for one local part
type Result struct {
	Prediction string
	Confidence float64
	Reason     string
	Order      int // n-gram order that produced the final entropies

	// Final entropies (from the arbitrated order)
	HLegit float64
	HFraud float64

	// Per-order entropies for persistence; NaN when an order is absent
	HLegit2 float64
	HFraud2 float64
	HLegit3 float64
	HFraud3 float64

	// Out-of-distribution abnormality
	MinEntropy      float64
	AbnormalityRisk float64
	OODZone         string
}

// orderResult is one order's raw verdict
type orderResult struct {
	prediction string
	confidence float64
	hLegit     float64
	hFraud     float64
	order      int
}

// NewEnsemble wires model pairs with threshold config, filling defaults
func NewEnsemble(two, three *Pair, th Thresholds, ood OODThresholds) *Ensemble {
	if th == (Thresholds{}) {
		th = DefaultThresholds()
	}
	if ood == (OODThresholds{}) {
		ood = DefaultOODThresholds()
	}
	return &Ensemble{TwoGram: two, ThreeGram: three, Thresholds: th, OOD: ood}
}

// Evaluate runs both orders and arbitrates. It is pure with respect to the
// model snapshot: the same input always yields the same result.
func (e *Ensemble) Evaluate(local string) Result {
	two := evalOrder(e.TwoGram, local, 2)

	var three *orderResult
	if e.ThreeGram != nil && e.ThreeGram.Legit != nil && e.ThreeGram.Fraud != nil {
		r := evalOrder(e.ThreeGram, local, 3)
		three = &r
	}

	res := e.arbitrate(two, three)

	res.HLegit2, res.HFraud2 = two.hLegit, two.hFraud
	if three != nil {
		res.HLegit3, res.HFraud3 = three.hLegit, three.hFraud
	} else {
		res.HLegit3, res.HFraud3 = math.NaN(), math.NaN()
	}

	e.scoreOOD(&res)
	return res
}

func evalOrder(pair *Pair, local string, order int) orderResult {
	res := orderResult{order: order, hLegit: math.Inf(1), hFraud: math.Inf(1)}
	if pair == nil || pair.Legit == nil || pair.Fraud == nil {
		return res
	}

	res.hLegit = pair.Legit.CrossEntropy(local)
	res.hFraud = pair.Fraud.CrossEntropy(local)

	if res.hFraud < res.hLegit {
		res.prediction = PredictFraud
	} else {
		res.prediction = PredictLegit
	}
	res.confidence = orderConfidence(res.hLegit, res.hFraud)
	return res
}

// orderConfidence maps the entropy separation to [0,1]
func orderConfidence(hLegit, hFraud float64) float64 {
	max := math.Max(hLegit, hFraud)
	if max <= 0 || !finite(hLegit) || !finite(hFraud) {
		return 0
	}
	conf := 2 * math.Abs(hLegit-hFraud) / max
	if conf > 1 {
		conf = 1
	}
	return conf
}

// arbitrate applies the deterministic priority chain between orders
func (e *Ensemble) arbitrate(two orderResult, three *orderResult) Result {
	if !finite(two.hLegit) || !finite(two.hFraud) ||
		(three != nil && (!finite(three.hLegit) || !finite(three.hFraud))) {
		return Result{
			Prediction: PredictLegit,
			Confidence: 0,
			Reason:     ReasonInvalidEntropy,
			Order:      2,
			HLegit:     two.hLegit,
			HFraud:     two.hFraud,
		}
	}

	if three == nil {
		return fromOrder(two, Reason2GramOnly)
	}

	th := e.Thresholds

	if two.prediction == three.prediction && math.Min(two.confidence, three.confidence) > th.AgreeMin {
		// Entropies come from the more confident order, confidence from
		// whichever is larger.
		chosen := two
		if three.confidence > two.confidence {
			chosen = *three
		}
		res := fromOrder(chosen, ReasonAgree)
		res.Confidence = math.Max(two.confidence, three.confidence)
		return res
	}

	if three.confidence > th.Override3Min && three.confidence > th.OverrideRatio*two.confidence {
		return fromOrder(*three, Reason3GramOverride)
	}

	if two.prediction == PredictFraud && two.confidence > th.Gibberish2Min && two.hFraud > th.GibberishEntropy {
		return fromOrder(two, ReasonGibberish2Gram)
	}

	if two.prediction != three.prediction {
		return fromOrder(two, ReasonDisagreeDefault)
	}

	chosen := two
	if three.confidence > two.confidence {
		chosen = *three
	}
	return fromOrder(chosen, ReasonAgreeLowConf)
}

// scoreOOD maps the final minimum entropy into the abnormality lane. High
// entropy under both models means neither recognizes the string.
func (e *Ensemble) scoreOOD(res *Result) {
	min := math.Min(res.HLegit, res.HFraud)
	res.MinEntropy = min

	ood := e.OOD
	switch {
	case !finite(min) || min < ood.WarnThreshold:
		res.AbnormalityRisk = 0
		res.OODZone = ZoneNone
	case min < ood.BlockThreshold:
		span := ood.BlockThreshold - ood.WarnThreshold
		frac := (min - ood.WarnThreshold) / span
		res.AbnormalityRisk = ood.WarnZoneMin + frac*(ood.MaxRisk-ood.WarnZoneMin)
		res.OODZone = ZoneWarn
	default:
		res.AbnormalityRisk = ood.MaxRisk
		res.OODZone = ZoneBlock
	}
}

func fromOrder(r orderResult, reason string) Result {
	return Result{
		Prediction: r.prediction,
		Confidence: r.confidence,
		Reason:     reason,
		Order:      r.order,
		HLegit:     r.hLegit,
		HFraud:     r.hFraud,
	}
}

func finite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
