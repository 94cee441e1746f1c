package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWords(t *testing.T) {
	words := Words("Sleep, improves MEMORY; sleep 42x")
	assert.Len(t, words, 4)
	assert.Contains(t, words, "sleep")
	assert.Contains(t, words, "memory")
	assert.Contains(t, words, "42x")
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "a b c", "c b a", 1.0},
		{"disjoint", "a b", "c d", 0.0},
		{"half", "a b c", "b c d", 0.5},
		{"both empty", "", "", 0.0},
		{"one empty", "a", "", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard{}.Similarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestKeywordBiasDetector(t *testing.T) {
	d := NewKeywordBiasDetector()

	tests := []struct {
		name string
		in   BiasInput
		want []string
	}{
		{
			name: "clean",
			in:   BiasInput{Content: "Recall rose 12% in 40 participants", Sources: []string{"a", "b"}},
			want: nil,
		},
		{
			name: "absolute without numbers",
			in:   BiasInput{Content: "This always works"},
			want: []string{FlagAbsoluteClaim, FlagNoQuantitativeSupport},
		},
		{
			name: "statistics suppress quantitative flag",
			in:   BiasInput{Content: "effect observed", HasStatistics: true},
			want: nil,
		},
		{
			name: "single source",
			in:   BiasInput{Content: "n=30", Sources: []string{"lab-notes"}},
			want: []string{FlagSingleSource},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Detect(tt.in))
		})
	}
}

func TestOverlapNovelty(t *testing.T) {
	n := NewOverlapNovelty()

	assert.Equal(t, 1.0, n.Novelty("brand new finding", nil))
	assert.InDelta(t, 0.5, n.Novelty("a b c", []string{"b c d", "x y"}), 1e-9)
	// identical content still contributes a little
	assert.InDelta(t, 0.1, n.Novelty("same words", []string{"same words"}), 1e-9)
}
