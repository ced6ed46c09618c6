package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected float64
	}{
		{"identical", "給与計算", "給与計算", 1.0},
		{"both empty", "", "", 1.0},
		{"one empty", "給与", "", 0.0},
		{"disjoint", "abc", "xyz", 0.0},
		{"partial overlap", "abcd", "bcde", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Ratio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestRatioSymmetricOnRunes(t *testing.T) {
	// 4 shared runes out of 4 + 9
	a := "給与計算"
	b := "給与計算(A形式)"

	got := Ratio(a, b)
	assert.InDelta(t, 2.0*4.0/13.0, got, 1e-9)
	assert.InDelta(t, got, Ratio(b, a), 1e-9)
}

func TestMostSimilar(t *testing.T) {
	candidates := []string{"勤怠集計", "給与計算タスクA", "給与計算タスクB"}

	tests := []struct {
		name      string
		input     string
		threshold float64
		expected  string
		ok        bool
	}{
		{"exact name", "給与計算タスクA", 0.2, "給与計算タスクA", true},
		{"fuzzy match", "給与タスクA", 0.2, "給与計算タスクA", true},
		{"below threshold", "xyz", 0.2, "", false},
		{"exact beats fuzzy", "勤怠集計", 0.2, "勤怠集計", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MostSimilar(tt.input, candidates, tt.threshold)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMostSimilarEmptyCandidates(t *testing.T) {
	_, ok := MostSimilar("給与", nil, 0.2)
	assert.False(t, ok)
}

func TestMostSimilarFirstWinsTies(t *testing.T) {
	got, ok := MostSimilar("ab", []string{"abx", "aby"}, 0.0)
	assert.True(t, ok)
	assert.Equal(t, "abx", got)
}
