package dns

import "strings"

// Provider buckets derived from MX hosts
const (
	ProviderGoogle     = "google"
	ProviderMicrosoft  = "microsoft"
	ProviderProton     = "proton"
	ProviderFastmail   = "fastmail"
	ProviderSES        = "amazon_ses"
	ProviderSelfHosted = "self_hosted"
	ProviderOther      = "other"
	ProviderNone       = "none"
)

// FreeProviders are consumer mailbox domains. Addresses here carry the
// provider_is_free signal.
var FreeProviders = map[string]bool{
	"gmail.com":      true,
	"googlemail.com": true,
	"yahoo.com":      true,
	"hotmail.com":    true,
	"outlook.com":    true,
	"live.com":       true,
	"msn.com":        true,
	"aol.com":        true,
	"icloud.com":     true,
	"me.com":         true,
	"proton.me":      true,
	"protonmail.com": true,
	"mail.com":       true,
	"gmx.com":        true,
	"gmx.net":        true,
	"yandex.com":     true,
	"yandex.ru":      true,
	"zoho.com":       true,
}

// providerCodes assign each bucket a stable numeric code for the feature
// schema. New buckets append; existing codes never change.
var providerCodes = map[string]float64{
	ProviderNone:       0,
	ProviderGoogle:     1,
	ProviderMicrosoft:  2,
	ProviderProton:     3,
	ProviderFastmail:   4,
	ProviderSES:        5,
	ProviderSelfHosted: 6,
	ProviderOther:      7,
}

// ProviderCode returns the numeric feature code for a provider bucket
func ProviderCode(provider string) float64 {
	return providerCodes[provider]
}

// providerSuffixes maps MX host suffixes to buckets. Matching picks the
// longest suffix that applies.
var providerSuffixes = map[string]string{
	"google.com":             ProviderGoogle,
	"googlemail.com":         ProviderGoogle,
	"smtp.goog":              ProviderGoogle,
	"outlook.com":            ProviderMicrosoft,
	"protection.outlook.com": ProviderMicrosoft,
	"protonmail.ch":          ProviderProton,
	"proton.me":              ProviderProton,
	"messagingengine.com":    ProviderFastmail,
	"fastmail.com":           ProviderFastmail,
	"amazonaws.com":          ProviderSES,
	"amazonses.com":          ProviderSES,
}

// ClassifyProvider buckets a domain by its MX hosts. A host under the
// queried domain itself means self-hosted mail.
func ClassifyProvider(domain string, records []MXRecord) string {
	if len(records) == 0 {
		return ProviderNone
	}

	for _, record := range records {
		if bucket := classifyHost(record.Host); bucket != "" {
			return bucket
		}
	}

	for _, record := range records {
		if record.Host == domain || strings.HasSuffix(record.Host, "."+domain) {
			return ProviderSelfHosted
		}
	}
	return ProviderOther
}

func classifyHost(host string) string {
	bestLen := 0
	bucket := ""
	for suffix, candidate := range providerSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			if len(suffix) > bestLen {
				bestLen = len(suffix)
				bucket = candidate
			}
		}
	}
	return bucket
}
