package filter

import (
	"math"

	"github.com/fraudguard/fraud-filter/pkg/email"
	"github.com/fraudguard/fraud-filter/pkg/features"
	"github.com/fraudguard/fraud-filter/pkg/markov"
	"github.com/fraudguard/fraud-filter/pkg/recorder"
)

// buildRecord maps an evaluation to its persistence row. Signals absent from
// the vector become nil and persist as NULL.
func buildRecord(res *Result, req Request, addr *email.Address, ens *markov.Result) *recorder.Record {
	rec := &recorder.Record{
		Consumer: req.Consumer,
		Flow:     req.Flow,

		Decision:    res.Decision,
		RiskScore:   res.RiskScore,
		BlockReason: res.BlockReason,
		Valid:       res.Valid,

		PatternFamily:  res.PatternFamily,
		EnsembleReason: res.EnsembleReason,
		OODZone:        res.OODZone,

		CalibrationVersion: res.Metadata.Calibration.Version,
		ModelVersion:       res.Metadata.ModelVersion,

		ExperimentID:      req.ExperimentID,
		ExperimentVariant: req.ExperimentVariant,
		ExperimentBucket:  req.ExperimentBucket,

		LatencyMs: res.LatencyMs,
	}

	if addr != nil {
		rec.EmailLocalPart = addr.Canonical
		rec.Domain = addr.Domain
		rec.TLD = addr.TLD
		rec.PatternConfidence = patternConfidence(addr)
	}

	if res.Fingerprint != nil {
		rec.FingerprintHash = res.Fingerprint.Hash
	}

	signals := features.Vector(res.Signals)
	rec.Entropy = lookupPtr(signals, features.Entropy)
	rec.BigramEntropy = lookupPtr(signals, features.BigramEntropy)
	rec.TLDRisk = lookupPtr(signals, features.TLDRisk)
	rec.Disposable = lookupBitPtr(signals, features.ProviderIsDisposable)

	if ens != nil {
		rec.HLegit2 = finitePtr(ens.HLegit2)
		rec.HFraud2 = finitePtr(ens.HFraud2)
		rec.HLegit3 = finitePtr(ens.HLegit3)
		rec.HFraud3 = finitePtr(ens.HFraud3)
		rec.MinEntropy = finitePtr(ens.MinEntropy)
		rec.AbnormalityScore = finitePtr(ens.AbnormalityRisk)
		rec.AbnormalityRisk = ptr(res.Lanes.Abnormality)
	}

	if ctx := req.Context; ctx != nil {
		rec.ClientIP = ctx.IP
		rec.UserAgent = ctx.UserAgent
		rec.ASN = ctx.ASN
		rec.Country = ctx.Country
		rec.Region = ctx.Region
		rec.City = ctx.City
		rec.Colo = ctx.Colo
		rec.Latitude = ctx.Latitude
		rec.Longitude = ctx.Longitude
		rec.TLSJA4 = ctx.JA4
		rec.BotScore = ctx.BotScore
		rec.TrustScore = ctx.TrustScore
		rec.VerifiedBot = ctx.VerifiedBot
	}

	return rec
}

// patternConfidence reports the strongest detected local-part pattern
func patternConfidence(addr *email.Address) *float64 {
	confidence := 0.0
	detected := false
	if addr.Sequential.Detected {
		confidence = addr.Sequential.Confidence
		detected = true
	}
	if addr.Dated.Detected && addr.Dated.Risk > confidence {
		confidence = addr.Dated.Risk
		detected = true
	}
	if !detected {
		return nil
	}
	return &confidence
}

func lookupPtr(signals features.Vector, name string) *float64 {
	if value, ok := signals.Lookup(name); ok {
		return &value
	}
	return nil
}

func lookupBitPtr(signals features.Vector, name string) *bool {
	if value, ok := signals.Lookup(name); ok {
		b := value != 0
		return &b
	}
	return nil
}

func finitePtr(value float64) *float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

func ptr(value float64) *float64 {
	return &value
}
