package features

import (
	"math"
	"strings"
)

// impossibleClusters are consonant bigrams that essentially never occur in
// human-chosen identifiers. Each occurrence is strong gibberish evidence.
var impossibleClusters = []string{
	"qx", "qz", "qj", "qk", "jq", "jx", "jz", "vq", "vx", "vj",
	"xj", "xq", "xz", "zx", "zq", "wx", "kq", "fq", "pq", "bq",
	"cj", "gq", "hx", "mx",
}

// Extract derives the statistical, linguistic and structural features from a
// canonical local part. Markov, domain and context lanes are filled later in
// the pipeline. All functions are total: any input yields a finite vector.
func Extract(local string) Vector {
	v := make(Vector)
	n := len(local)

	v.Set(Length, float64(n))
	if n == 0 {
		return zeroVector(v)
	}

	extractStatistical(v, local)
	extractLinguistic(v, local)
	extractStructural(v, local)

	return v
}

func extractStatistical(v Vector, local string) {
	n := len(local)

	digits, symbols := 0, 0
	maxDigitRun, digitRun := 0, 0
	seen := make(map[byte]int, n)

	for i := 0; i < n; i++ {
		c := local[i]
		seen[c]++
		switch {
		case c >= '0' && c <= '9':
			digits++
			digitRun++
			if digitRun > maxDigitRun {
				maxDigitRun = digitRun
			}
		case c >= 'a' && c <= 'z':
			digitRun = 0
		default:
			symbols++
			digitRun = 0
		}
	}

	v.Set(DigitCount, float64(digits))
	v.Set(DigitRatio, float64(digits)/float64(n))
	v.Set(MaxDigitRun, float64(maxDigitRun))
	v.Set(SymbolCount, float64(symbols))
	v.Set(SymbolRatio, float64(symbols)/float64(n))
	v.Set(UniqueCharRatio, float64(len(seen))/float64(n))
	v.Set(Entropy, shannonEntropy(seen, n))
	v.Set(BigramEntropy, bigramEntropy(local))
	v.Set(VowelGapRatio, vowelGapRatio(local))
}

func extractLinguistic(v Vector, local string) {
	n := len(local)

	vowels, consonants := 0, 0
	maxConsCluster, consCluster := 0, 0
	maxVowelCluster, vowelCluster := 0, 0
	maxRepeat, repeat := 1, 1
	repeated := 0
	syllables := 0
	inVowelGroup := false

	for i := 0; i < n; i++ {
		c := local[i]

		if i > 0 && c == local[i-1] {
			repeat++
			repeated++
		} else {
			repeat = 1
		}
		if repeat > maxRepeat {
			maxRepeat = repeat
		}

		switch {
		case isVowelByte(c):
			vowels++
			vowelCluster++
			consCluster = 0
			if vowelCluster > maxVowelCluster {
				maxVowelCluster = vowelCluster
			}
			if !inVowelGroup {
				syllables++
				inVowelGroup = true
			}
		case c >= 'a' && c <= 'z':
			consonants++
			consCluster++
			vowelCluster = 0
			inVowelGroup = false
			if consCluster > maxConsCluster {
				maxConsCluster = consCluster
			}
		default:
			consCluster = 0
			vowelCluster = 0
			inVowelGroup = false
		}
	}

	impossible := 0
	for _, cluster := range impossibleClusters {
		impossible += strings.Count(local, cluster)
	}

	v.Set(VowelRatio, float64(vowels)/float64(n))
	v.Set(ConsonantRatio, float64(consonants)/float64(n))
	v.Set(MaxConsonantCluster, float64(maxConsCluster))
	v.Set(MaxVowelCluster, float64(maxVowelCluster))
	v.Set(MaxRepeatedCharRun, float64(maxRepeat))
	v.Set(RepeatedCharRatio, float64(repeated)/float64(n))
	v.Set(SyllableEstimate, float64(syllables))
	v.Set(ImpossibleClusterCount, float64(impossible))
	v.SetBool(HasVowel, vowels > 0)

	v.Set(Pronounceability, pronounceability(v))
}

func extractStructural(v Vector, local string) {
	segments := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})

	v.SetBool(HasWordBoundaries, len(segments) > 1)
	v.Set(SegmentCount, float64(len(segments)))

	if len(segments) == 0 {
		v.Set(AvgSegmentLength, 0)
		v.Set(LongestSegmentLength, 0)
		v.Set(SegmentsWithoutVowelsRatio, 0)
		return
	}

	total, longest, vowelless := 0, 0, 0
	for _, seg := range segments {
		total += len(seg)
		if len(seg) > longest {
			longest = len(seg)
		}
		if !containsVowel(seg) {
			vowelless++
		}
	}

	v.Set(AvgSegmentLength, float64(total)/float64(len(segments)))
	v.Set(LongestSegmentLength, float64(longest))
	v.Set(SegmentsWithoutVowelsRatio, float64(vowelless)/float64(len(segments)))
}

// pronounceability folds several linguistic signals into a single [0,1]
// score. 1.0 reads like a name, 0.0 reads like noise.
func pronounceability(v Vector) float64 {
	score := 1.0

	vowelRatio := v.Get(VowelRatio)
	switch {
	case vowelRatio < 0.1:
		score -= 0.4
	case vowelRatio < 0.2:
		score -= 0.2
	case vowelRatio > 0.7:
		score -= 0.2
	}

	if cluster := v.Get(MaxConsonantCluster); cluster > 4 {
		score -= 0.25
	} else if cluster > 3 {
		score -= 0.1
	}

	if v.Get(MaxRepeatedCharRun) > 2 {
		score -= 0.15
	}

	score -= 0.2 * v.Get(DigitRatio)
	score -= 0.1 * v.Get(SymbolRatio)
	score -= 0.15 * v.Get(ImpossibleClusterCount)
	score -= 0.2 * v.Get(SegmentsWithoutVowelsRatio)

	return clamp01(score)
}

// shannonEntropy computes character entropy normalized by log2(length) so
// that the value stays comparable across lengths.
func shannonEntropy(counts map[byte]int, n int) float64 {
	if n < 2 {
		return 0
	}

	var h float64
	for _, count := range counts {
		p := float64(count) / float64(n)
		h -= p * math.Log2(p)
	}

	norm := math.Log2(float64(n))
	if norm <= 0 {
		return 0
	}
	return clamp01(h / norm)
}

// bigramEntropy measures randomness of character transitions. Unlike the
// Markov lanes it needs no trained model, which makes it language-agnostic.
func bigramEntropy(local string) float64 {
	if len(local) < 3 {
		return 0
	}

	transitions := make(map[string]int)
	total := 0
	for i := 0; i+2 <= len(local); i++ {
		transitions[local[i:i+2]]++
		total++
	}

	var h float64
	for _, count := range transitions {
		p := float64(count) / float64(total)
		h -= p * math.Log2(p)
	}
	return h
}

// vowelGapRatio measures how much of the string sits in long vowel-free
// stretches. Random consonant strings score near 1, names near 0.
func vowelGapRatio(local string) float64 {
	n := len(local)
	if n == 0 {
		return 0
	}

	gapped := 0
	gap := 0
	for i := 0; i < n; i++ {
		if isVowelByte(local[i]) {
			gap = 0
			continue
		}
		gap++
		if gap > 2 {
			gapped++
		}
	}
	return float64(gapped) / float64(n)
}

func zeroVector(v Vector) Vector {
	for _, name := range []string{
		DigitCount, DigitRatio, MaxDigitRun, SymbolCount, SymbolRatio,
		UniqueCharRatio, Entropy, BigramEntropy, VowelGapRatio,
		VowelRatio, ConsonantRatio, MaxConsonantCluster, MaxVowelCluster,
		MaxRepeatedCharRun, RepeatedCharRatio, SyllableEstimate,
		ImpossibleClusterCount, HasVowel, Pronounceability,
		HasWordBoundaries, SegmentCount, AvgSegmentLength,
		LongestSegmentLength, SegmentsWithoutVowelsRatio,
	} {
		v.Set(name, 0)
	}
	return v
}

func containsVowel(s string) bool {
	for i := 0; i < len(s); i++ {
		if isVowelByte(s[i]) {
			return true
		}
	}
	return false
}

func isVowelByte(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
