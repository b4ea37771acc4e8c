package filter

// Decisions
const (
	DecisionAllow = "allow"
	DecisionWarn  = "warn"
	DecisionBlock = "block"
)

// Block reasons in precedence order. When several lanes trigger, the
// highest-precedence one becomes the block reason.
const (
	ReasonFormatInvalid  = "format_invalid"
	ReasonDisposable     = "disposable"
	ReasonClassification = "classification"
	ReasonOOD            = "ood"
	ReasonForest         = "forest"
	ReasonHeuristic      = "heuristic"
	ReasonDomain         = "domain"
	ReasonDegradedModel  = "degraded_model"
)

// ClientContext carries request-level identity signals supplied by the edge
type ClientContext struct {
	IP        string   `json:"ip,omitempty"`
	UserAgent string   `json:"userAgent,omitempty"`
	ASN       *int     `json:"asn,omitempty"`
	Country   string   `json:"country,omitempty"`
	Region    string   `json:"region,omitempty"`
	City      string   `json:"city,omitempty"`
	Colo      string   `json:"colo,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	JA4         string   `json:"ja4,omitempty"`
	BotScore    *float64 `json:"botScore,omitempty"`
	TrustScore  *float64 `json:"trustScore,omitempty"`
	VerifiedBot *bool    `json:"verifiedBot,omitempty"`
}

// Request is one evaluation request
type Request struct {
	Email    string         `json:"email"`
	Consumer string         `json:"consumer,omitempty"`
	Flow     string         `json:"flow,omitempty"`
	Context  *ClientContext `json:"context,omitempty"`

	// Experiment assignment supplied by the caller, recorded verbatim.
	ExperimentID      string `json:"experimentId,omitempty"`
	ExperimentVariant string `json:"experimentVariant,omitempty"`
	ExperimentBucket  *int   `json:"experimentBucket,omitempty"`
}

// CalibrationMeta reports how calibration affected this evaluation
type CalibrationMeta struct {
	Version            string             `json:"version,omitempty"`
	CreatedAt          string             `json:"createdAt,omitempty"`
	CalibrationUsed    bool               `json:"calibrationUsed"`
	CalibrationBoosted bool               `json:"calibrationBoosted"`
	BoostAmount        float64            `json:"boostAmount"`
	Metrics            map[string]float64 `json:"metrics,omitempty"`
}

// Fingerprint correlates requests without storing raw identity signals
type Fingerprint struct {
	Hash    string `json:"hash"`
	Country string `json:"country,omitempty"`
	ASN     *int   `json:"asn,omitempty"`
}

// Metadata carries model provenance for the response
type Metadata struct {
	Calibration  CalibrationMeta `json:"calibration"`
	ModelVersion string          `json:"modelVersion,omitempty"`
}

// Lanes are the per-detector risk contributions, each in [0,1]
type Lanes struct {
	Classification     float64 `json:"classification"`
	Abnormality        float64 `json:"abnormality"`
	Heuristic          float64 `json:"heuristic"`
	Forest             float64 `json:"forest"`
	Domain             float64 `json:"domain"`
	WhitelistReduction float64 `json:"whitelistReduction"`
	PreWhitelist       float64 `json:"preWhitelist"`
}

// Result is the evaluation outcome returned to callers
type Result struct {
	Valid       bool               `json:"valid"`
	RiskScore   float64            `json:"riskScore"`
	Decision    string             `json:"decision"`
	BlockReason string             `json:"blockReason,omitempty"`
	Signals     map[string]float64 `json:"signals"`
	Lanes       Lanes              `json:"lanes"`
	Fingerprint *Fingerprint       `json:"fingerprint,omitempty"`
	Metadata    Metadata           `json:"metadata"`
	LatencyMs   float64            `json:"latencyMs"`

	// Derived context for persistence and headers
	PatternFamily  string `json:"patternFamily,omitempty"`
	EnsembleReason string `json:"-"`
	OODZone        string `json:"-"`
	Degraded       bool   `json:"-"`
}
