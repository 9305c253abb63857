package pipeline

import (
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"visionrag/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		question string
		want     QueryType
		figure   int
	}{
		{"What does Figure 3 show?", QueryFigure, 3},
		{"explain fig. 12", QueryFigure, 12},
		{"Fig 2 vs the table of contents", QueryFigure, 2},
		{"what is in figure#7", QueryFigure, 7},
		{"figures 4 and 5", QueryFigure, 4},
		{"What does Figure No. 3 show?", QueryFigure, 3},
		{"see fig (2)", QueryFigure, 2},
		{"figure out the 3 steps", QueryGeneric, 0},
		{"Give me the table of contents", QueryStructural, 0},
		{"Summarize the paper", QueryStructural, 0},
		{"how is it organised?", QueryStructural, 0},
		{"List the sections", QueryStructural, 0},
		{"the fight 3 rounds", QueryGeneric, 0},
		{"What is the learning rate?", QueryGeneric, 0},
		{"configure 5 nodes", QueryGeneric, 0},
	}
	for _, c := range cases {
		t.Run(c.question, func(t *testing.T) {
			qt, n := Classify(c.question)
			assert.Equal(t, c.want, qt)
			assert.Equal(t, c.figure, n)
		})
	}
}

func TestMergeByMaxScore(t *testing.T) {
	a := []types.Candidate{{ID: "x", Score: 0.5}, {ID: "y", Score: 0.9}}
	b := []types.Candidate{{ID: "x", Score: 0.8, Content: "best x"}, {ID: "z", Score: 0.8}}
	c := []types.Candidate{{ID: "y", Score: 0.1}}

	got := MergeByMaxScore(a, b, c)

	require.Len(t, got, 3)
	assert.Equal(t, "y", got[0].ID)
	assert.InDelta(t, 0.9, got[0].Score, 1e-9)
	assert.Equal(t, "x", got[1].ID)
	assert.Equal(t, "best x", got[1].Content)
	assert.Equal(t, "z", got[2].ID)

	ids := make(map[string]bool)
	for _, cand := range got {
		assert.False(t, ids[cand.ID])
		ids[cand.ID] = true
	}
	assert.Empty(t, MergeByMaxScore())
}

func TestFilterFigureIsExact(t *testing.T) {
	cands := []types.Candidate{
		{ID: "1", Type: types.BundleFigure, Caption: "Figure 12: other"},
		{ID: "2", Type: types.BundleFigure, Caption: "FIGURE 1: target"},
		{ID: "3", Type: types.BundleText, Content: "see figure 1", Caption: "figure 1"},
		{ID: "4", Type: types.BundleFigure, Caption: "Figure 10: also other"},
		{ID: "5", Type: types.BundleFigure, Caption: "Compare with figure1"},
	}

	got := FilterFigure(cands, 1)

	require.Len(t, got, 2)
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "5", got[1].ID)
}

func TestAssembleContext(t *testing.T) {
	cands := []types.Candidate{
		{Type: types.BundleText, Content: "alpha"},
		{Type: types.BundleText},
		{Type: types.BundleFigure, Caption: "Figure 1: cap", Content: "desc"},
		{Type: types.BundleImage, Description: "a photo", Content: "s3://b/k"},
	}

	got := AssembleContext(cands)

	assert.Equal(t, "\nalpha\n\nFigure 1: cap\ndesc\n\na photo\ns3://b/k", got)
	assert.Empty(t, AssembleContext([]types.Candidate{{Caption: " ", Content: "\n"}}))
}

func TestTruncateContext(t *testing.T) {
	short := strings.Repeat("a", 100)
	assert.Equal(t, short, TruncateContext(short, 100))

	long := strings.Repeat("ж", 16001)
	got := TruncateContext(long, 16000)
	assert.Equal(t, 16000+utf8.RuneCountInString(TruncationMarker), utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.Equal(t, strings.Repeat("ж", 16000), strings.TrimSuffix(got, TruncationMarker))
}

func TestDocLocksReleaseEntries(t *testing.T) {
	locks := newDocLocks()

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			locks.Lock("d")()
		}()
		go func() {
			defer wg.Done()
			locks.RLock("d")()
		}()
	}
	wg.Wait()

	assert.Empty(t, locks.locks)
}
