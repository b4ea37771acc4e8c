package email

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Address represents a normalized email address with signup-fraud relevant
// structure extracted from the local part.
type Address struct {
	Raw       string
	Email     string // lower-cased full address
	LocalPart string // original local part (plus tag retained)
	Canonical string // local part with plus tag stripped
	Domain    string
	TLD       string

	Plus       PlusAddressing
	Sequential SequentialPattern
	Dated      DatedPattern
}

// PlusAddressing describes a detected +tag in the local part
type PlusAddressing struct {
	Present    bool
	Tag        string
	Suspicious bool
}

// SequentialPattern describes a trailing numeric run such as user123
type SequentialPattern struct {
	Detected   bool
	Base       string
	Digits     string
	Confidence float64
}

// DatedPattern describes a year-like number embedded in the local part
type DatedPattern struct {
	Detected bool
	Year     int
	HasMonth bool
	FullDate bool
	Risk     float64
}

// suspiciousPlusTags are tags that indicate throwaway signups. Purely numeric
// tags are treated the same way.
var suspiciousPlusTags = map[string]bool{
	"test": true, "spam": true, "temp": true, "fake": true, "trash": true,
	"junk": true, "disposable": true, "throwaway": true, "burner": true,
	"trial": true,
}

// genericBases are local-part stems that carry no personal identity. A
// trailing numeric run behind one of these is a strong enumeration signal.
var genericBases = map[string]bool{
	"user": true, "test": true, "admin": true, "info": true, "mail": true,
	"contact": true, "account": true, "member": true, "client": true,
	"customer": true, "temp": true, "demo": true,
}

// Parse normalizes a raw address and extracts local-part structure.
// The address is lower-cased and split at the last '@'.
func Parse(raw string) (*Address, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return nil, fmt.Errorf("empty address")
	}

	at := strings.LastIndex(normalized, "@")
	if at <= 0 || at == len(normalized)-1 {
		return nil, fmt.Errorf("malformed address: %q", raw)
	}

	local := normalized[:at]
	domain := normalized[at+1:]

	if strings.Contains(domain, "@") || !strings.Contains(domain, ".") {
		return nil, fmt.Errorf("malformed domain: %q", domain)
	}
	if !validLocalPart(local) {
		return nil, fmt.Errorf("malformed local part: %q", local)
	}

	addr := &Address{
		Raw:       raw,
		Email:     normalized,
		LocalPart: local,
		Canonical: local,
		Domain:    domain,
		TLD:       domain[strings.LastIndex(domain, ".")+1:],
	}

	addr.Plus = detectPlusTag(local)
	if addr.Plus.Present {
		addr.Canonical = local[:strings.Index(local, "+")]
	}

	addr.Dated = detectDatedPattern(addr.Canonical, time.Now())
	addr.Sequential = detectSequentialPattern(addr.Canonical, time.Now())

	return addr, nil
}

// validLocalPart accepts the character set the models are trained on.
func validLocalPart(local string) bool {
	if local == "" || len(local) > 64 {
		return false
	}
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '+' || r == '-':
		default:
			return false
		}
	}
	return true
}

// detectPlusTag finds plus addressing and flags abusive tags
func detectPlusTag(local string) PlusAddressing {
	idx := strings.Index(local, "+")
	if idx < 0 || idx == len(local)-1 {
		return PlusAddressing{}
	}

	tag := local[idx+1:]
	suspicious := suspiciousPlusTags[tag] || isAllDigits(tag)

	return PlusAddressing{Present: true, Tag: tag, Suspicious: suspicious}
}

// detectSequentialPattern analyzes a trailing numeric run. A 4-digit run that
// reads as a plausible birth year is exempt; the dated pattern covers it.
func detectSequentialPattern(local string, now time.Time) SequentialPattern {
	digits := trailingDigits(local)
	if digits == "" {
		return SequentialPattern{}
	}

	base := local[:len(local)-len(digits)]
	base = strings.TrimRight(base, "._-")

	if len(digits) == 4 {
		if year, err := strconv.Atoi(digits); err == nil && isPlausibleBirthYear(year, now) {
			return SequentialPattern{}
		}
	}

	confidence := 0.3
	if len(digits) >= 3 {
		confidence += 0.15
	}
	if strings.HasPrefix(digits, "0") && len(digits) > 1 {
		confidence += 0.1
	}
	if float64(len(digits))/float64(len(local)) >= 0.25 {
		confidence += 0.15
	}
	if genericBases[base] {
		confidence += 0.2
	}
	if confidence > 1 {
		confidence = 1
	}

	return SequentialPattern{
		Detected:   true,
		Base:       base,
		Digits:     digits,
		Confidence: confidence,
	}
}

// detectDatedPattern classifies a 4-digit year in the local part by temporal
// distance from now. Birth-year-plausible values score low unless a month or
// full date accompanies them.
func detectDatedPattern(local string, now time.Time) DatedPattern {
	year, digitRun := findYear(local)
	if year == 0 {
		return DatedPattern{}
	}

	age := now.Year() - year
	hasMonth := len(digitRun) == 6 && hasValidMonth(digitRun)
	fullDate := len(digitRun) == 8 && hasValidMonth(digitRun)

	var risk float64
	switch {
	case age < 0:
		risk = 0.95
	case age <= 2:
		risk = 0.90
	case age <= 12:
		risk = 0.70
	case age <= 65:
		// Plausible birth year. Accompanying date parts make a synthetic
		// identity far more likely than a vanity year.
		risk = 0.20
		if fullDate {
			risk = 0.75
		} else if hasMonth {
			risk = 0.60
		}
	case age <= 100:
		risk = 0.40
	default:
		risk = 0.80
	}

	return DatedPattern{
		Detected: true,
		Year:     year,
		HasMonth: hasMonth,
		FullDate: fullDate,
		Risk:     risk,
	}
}

// PatternFamily returns the normalized structural signature of the local
// part, e.g. "NAME.NAME.YEAR" for john.smith1990. Tokens: NAME (alphabetic,
// len >= 4, pronounceable), WORD (alphabetic, len >= 4), SHORT (alphabetic,
// len <= 3), YEAR (4-digit 1900-2099), NUM (other digits), MIX (blend).
func PatternFamily(local string) string {
	segments := splitSegments(local)
	if len(segments) == 0 {
		return ""
	}

	var tokens []string
	for _, seg := range segments {
		tokens = append(tokens, classifySegment(seg)...)
	}
	return strings.Join(tokens, ".")
}

// classifySegment splits a segment into alpha/digit runs and labels each
func classifySegment(seg string) []string {
	var tokens []string
	for _, run := range splitRuns(seg) {
		switch {
		case isAllDigits(run):
			if year, err := strconv.Atoi(run); err == nil && len(run) == 4 && year >= 1900 && year <= 2099 {
				tokens = append(tokens, "YEAR")
			} else {
				tokens = append(tokens, "NUM")
			}
		case isAllAlpha(run):
			switch {
			case len(run) <= 3:
				tokens = append(tokens, "SHORT")
			case looksPronounceable(run):
				tokens = append(tokens, "NAME")
			default:
				tokens = append(tokens, "WORD")
			}
		default:
			tokens = append(tokens, "MIX")
		}
	}
	return tokens
}

// splitSegments splits on the separator characters . _ -
func splitSegments(local string) []string {
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	return parts
}

// splitRuns splits a segment into maximal alpha and digit runs
func splitRuns(seg string) []string {
	if seg == "" {
		return nil
	}
	var runs []string
	start := 0
	for i := 1; i <= len(seg); i++ {
		if i == len(seg) || isDigitByte(seg[i]) != isDigitByte(seg[i-1]) {
			runs = append(runs, seg[start:i])
			start = i
		}
	}
	return runs
}

// looksPronounceable is a coarse check used only for family tokens. The
// scored pronounceability feature lives in the features package.
func looksPronounceable(word string) bool {
	vowels := 0
	cluster := 0
	maxCluster := 0
	for _, r := range word {
		if isVowel(r) {
			vowels++
			cluster = 0
		} else {
			cluster++
			if cluster > maxCluster {
				maxCluster = cluster
			}
		}
	}
	ratio := float64(vowels) / float64(len(word))
	return ratio >= 0.2 && maxCluster <= 4
}

func isPlausibleBirthYear(year int, now time.Time) bool {
	age := now.Year() - year
	return age >= 13 && age <= 100
}

// findYear returns a 4-digit year embedded in the local part together with
// the full digit run containing it, or 0 when none is present.
func findYear(local string) (int, string) {
	for _, run := range digitRuns(local) {
		var candidate string
		switch len(run) {
		case 4:
			candidate = run
		case 6:
			// MMYYYY or YYYYMM
			if y := pickYear(run[2:], run[:4]); y != "" {
				candidate = y
			}
		case 8:
			// DDMMYYYY or YYYYMMDD
			if y := pickYear(run[4:], run[:4]); y != "" {
				candidate = y
			}
		}
		if candidate != "" {
			year, _ := strconv.Atoi(candidate)
			if year >= 1900 && year <= 2099 {
				return year, run
			}
		}
	}
	return 0, ""
}

// pickYear chooses whichever of the two slices parses as a year
func pickYear(a, b string) string {
	for _, s := range []string{a, b} {
		if year, err := strconv.Atoi(s); err == nil && year >= 1900 && year <= 2099 {
			return s
		}
	}
	return ""
}

// hasValidMonth checks whether the non-year digits contain a 01-12 pair
func hasValidMonth(run string) bool {
	for i := 0; i+2 <= len(run); i += 2 {
		if m, err := strconv.Atoi(run[i : i+2]); err == nil && m >= 1 && m <= 12 {
			return true
		}
	}
	return false
}

func trailingDigits(s string) string {
	i := len(s)
	for i > 0 && isDigitByte(s[i-1]) {
		i--
	}
	return s[i:]
}

func digitRuns(s string) []string {
	var runs []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && isDigitByte(s[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			runs = append(runs, s[start:i])
			start = -1
		}
	}
	return runs
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigitByte(s[i]) {
			return false
		}
	}
	return true
}

func isAllAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func isDigitByte(b byte) bool { return b >= '0' && b <= '9' }

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}
