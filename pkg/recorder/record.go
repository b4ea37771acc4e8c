package recorder

import "time"

// Record is one persisted validation. Pointer fields are signals that were
// unknown at evaluation time and persist as NULL; boolean columns store 0/1.
type Record struct {
	ID        string
	CreatedAt time.Time

	Consumer string
	Flow     string

	Decision    string
	RiskScore   float64
	BlockReason string
	Valid       bool

	EmailLocalPart string
	Domain         string
	TLD            string

	FingerprintHash string

	PatternFamily     string
	PatternConfidence *float64

	Entropy          *float64
	BigramEntropy    *float64
	TLDRisk          *float64
	DomainReputation *float64
	Disposable       *bool

	HLegit2        *float64
	HFraud2        *float64
	HLegit3        *float64
	HFraud3        *float64
	EnsembleReason string

	MinEntropy       *float64
	AbnormalityScore *float64
	AbnormalityRisk  *float64
	OODZone          string

	CalibrationVersion string
	ModelVersion       string

	ExperimentID      string
	ExperimentVariant string
	ExperimentBucket  *int

	ClientIP  string
	UserAgent string
	ASN       *int
	Country   string
	Region    string
	City      string
	Colo      string
	Latitude  *float64
	Longitude *float64

	TLSJA4      string
	BotScore    *float64
	TrustScore  *float64
	VerifiedBot *bool

	LatencyMs float64
}
