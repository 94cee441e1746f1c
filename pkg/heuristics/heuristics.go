// Package heuristics holds the lexical scoring strategies used by the
// reasoning engine: bias flag detection, novelty estimation and content
// similarity.
//
// Every strategy here is a deliberately crude keyword or word-set heuristic.
// Each sits behind a small interface so a caller can plug in a real NLP or
// embedding-based implementation without touching the graph engine.
//
// Example Usage:
//
//	sim := heuristics.Jaccard{}
//	score := sim.Similarity("sleep improves memory", "memory improves with sleep")
//
//	flags := heuristics.NewKeywordBiasDetector().Detect(heuristics.BiasInput{
//		Content: "This always works",
//	})
//	// flags: [absolute_claim no_quantitative_support]
package heuristics

import (
	"sort"
	"strings"
	"unicode"
)

// Bias flag names emitted by KeywordBiasDetector.
const (
	FlagAbsoluteClaim         = "absolute_claim"
	FlagNoQuantitativeSupport = "no_quantitative_support"
	FlagSingleSource          = "single_source"
)

// BiasInput is what a BiasDetector inspects.
type BiasInput struct {
	Content string
	// HasStatistics is true when the caller attached a statistical power record.
	HasStatistics bool
	// Sources lists provenance sources for the observation.
	Sources []string
}

// BiasDetector scans an observation and returns bias flags, sorted.
type BiasDetector interface {
	Detect(in BiasInput) []string
}

// NoveltyScorer estimates how new content is relative to what a node already
// has attached, in [0,1]. 1 means nothing similar exists.
type NoveltyScorer interface {
	Novelty(content string, existing []string) float64
}

// Similarity scores two pieces of content in [0,1].
type Similarity interface {
	Similarity(a, b string) float64
}

// ===== Tokenization =====

// Words splits content into a lower-cased word set. Punctuation separates
// words; digits are kept.
func Words(content string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// Jaccard is |A∩B| / |A∪B| over word sets.
type Jaccard struct{}

// Similarity implements Similarity. Two empty strings score 0.
func (Jaccard) Similarity(a, b string) float64 {
	return JaccardSets(Words(a), Words(b))
}

// JaccardSets computes the Jaccard index of two string sets.
func JaccardSets(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// ===== Bias detection =====

var absoluteTerms = []string{
	"always", "never", "all", "none", "every", "proves", "proven",
	"definitely", "certainly", "undeniably", "impossible", "guaranteed",
}

// KeywordBiasDetector flags absolute language, observations with no numbers
// and no statistics, and single-source provenance.
type KeywordBiasDetector struct {
	AbsoluteTerms map[string]struct{}
}

// NewKeywordBiasDetector returns a detector with the built-in term list.
func NewKeywordBiasDetector() *KeywordBiasDetector {
	terms := make(map[string]struct{}, len(absoluteTerms))
	for _, t := range absoluteTerms {
		terms[t] = struct{}{}
	}
	return &KeywordBiasDetector{AbsoluteTerms: terms}
}

// Detect implements BiasDetector.
func (d *KeywordBiasDetector) Detect(in BiasInput) []string {
	var flags []string
	words := Words(in.Content)
	for w := range words {
		if _, ok := d.AbsoluteTerms[w]; ok {
			flags = append(flags, FlagAbsoluteClaim)
			break
		}
	}
	if !in.HasStatistics && !strings.ContainsFunc(in.Content, unicode.IsDigit) {
		flags = append(flags, FlagNoQuantitativeSupport)
	}
	if len(in.Sources) == 1 {
		flags = append(flags, FlagSingleSource)
	}
	sort.Strings(flags)
	return flags
}

// ===== Novelty =====

// OverlapNovelty scores novelty as 1 minus the highest similarity against
// any existing content.
type OverlapNovelty struct {
	Sim Similarity
	// Floor keeps repeated observations from contributing nothing at all.
	Floor float64
}

// NewOverlapNovelty returns a Jaccard-based novelty scorer with a 0.1 floor.
func NewOverlapNovelty() *OverlapNovelty {
	return &OverlapNovelty{Sim: Jaccard{}, Floor: 0.1}
}

// Novelty implements NoveltyScorer.
func (n *OverlapNovelty) Novelty(content string, existing []string) float64 {
	maxSim := 0.0
	for _, e := range existing {
		if s := n.Sim.Similarity(content, e); s > maxSim {
			maxSim = s
		}
	}
	score := 1 - maxSim
	if score < n.Floor {
		score = n.Floor
	}
	if score > 1 {
		score = 1
	}
	return score
}
