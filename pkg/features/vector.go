package features

// Feature names form the stable model feature schema persisted with each
// trained artifact. Renaming one silently breaks forest evaluation, so names
// are declared once here and referenced everywhere.
const (
	// Statistical
	Length          = "length"
	DigitCount      = "digit_count"
	DigitRatio      = "digit_ratio"
	MaxDigitRun     = "max_digit_run"
	SymbolCount     = "symbol_count"
	SymbolRatio     = "symbol_ratio"
	UniqueCharRatio = "unique_char_ratio"
	Entropy         = "entropy"
	BigramEntropy   = "bigram_entropy"
	VowelGapRatio   = "vowel_gap_ratio"

	// Linguistic
	Pronounceability       = "pronounceability"
	VowelRatio             = "vowel_ratio"
	ConsonantRatio         = "consonant_ratio"
	MaxConsonantCluster    = "max_consonant_cluster"
	MaxVowelCluster        = "max_vowel_cluster"
	MaxRepeatedCharRun     = "max_repeated_char_run"
	RepeatedCharRatio      = "repeated_char_ratio"
	SyllableEstimate       = "syllable_estimate"
	ImpossibleClusterCount = "impossible_cluster_count"
	HasVowel               = "has_vowel"

	// Structural
	HasWordBoundaries         = "has_word_boundaries"
	SegmentCount              = "segment_count"
	AvgSegmentLength          = "avg_segment_length"
	LongestSegmentLength      = "longest_segment_length"
	SegmentsWithoutVowelsRatio = "segments_without_vowels_ratio"

	// Markov (filled by the ensemble)
	CELegit2        = "ce_legit2"
	CEFraud2        = "ce_fraud2"
	CEDiff2         = "ce_diff2"
	CELegit3        = "ce_legit3"
	CEFraud3        = "ce_fraud3"
	CEDiff3         = "ce_diff3"
	MinEntropy      = "min_entropy"
	AbnormalityRisk = "abnormality_risk"

	// Domain (filled by the pipeline)
	ProviderIsFree       = "provider_is_free"
	ProviderIsDisposable = "provider_is_disposable"
	TLDRisk              = "tld_risk"
	MXHasRecords         = "mx_has_records"
	MXProviderBucket     = "mx_provider_bucket"

	// Context (filled by the pipeline)
	BotScore          = "bot_score"
	HasPlusAddressing = "has_plus_addressing"
	PlusRisk          = "plus_risk"
)

// Vector is a named feature mapping. Absent keys represent signals that were
// unknown or unavailable at evaluation time; the recorder persists them as
// NULL, never as zero.
type Vector map[string]float64

// Set stores a feature value
func (v Vector) Set(name string, value float64) {
	v[name] = value
}

// SetBool stores a strictly 0/1 coded feature
func (v Vector) SetBool(name string, value bool) {
	if value {
		v[name] = 1.0
	} else {
		v[name] = 0.0
	}
}

// Get returns the value for name, or 0 when absent
func (v Vector) Get(name string) float64 {
	return v[name]
}

// Lookup returns the value and whether the signal is present
func (v Vector) Lookup(name string) (float64, bool) {
	value, ok := v[name]
	return value, ok
}

// Clone returns an independent copy of the vector
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for name, value := range v {
		out[name] = value
	}
	return out
}
