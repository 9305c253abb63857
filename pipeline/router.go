package pipeline

import (
	"regexp"
	"sort"
	"strconv"

	"visionrag/types"
)

type QueryType string

const (
	QueryFigure     QueryType = "figure"
	QueryStructural QueryType = "structural"
	QueryGeneric    QueryType = "generic"
)

var (
	figureQueryRe   = regexp.MustCompile(`(?i)\bfig(?:ure)?s?\b[^\d\n]{0,5}(\d+)`)
	structuralRe    = regexp.MustCompile(`(?i)\b(?:chapters?|sections?|table of contents|contents|toc|outline|overview|summary|summari[sz]e|structure|organi[sz]ed|headings)\b`)
	captionFigureRe = regexp.MustCompile(`(?i)figure\s*(\d+)`)
)

// Classify decides how a question is retrieved. For figure questions the
// referenced figure number is returned as well.
func Classify(question string) (QueryType, int) {
	if m := figureQueryRe.FindStringSubmatch(question); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return QueryFigure, n
		}
	}
	if structuralRe.MatchString(question) {
		return QueryStructural, 0
	}
	return QueryGeneric, 0
}

// MergeByMaxScore unions candidate lists by id, keeping the highest score of
// each, ordered by score descending and id ascending.
func MergeByMaxScore(lists ...[]types.Candidate) []types.Candidate {
	best := make(map[string]types.Candidate)
	for _, list := range lists {
		for _, c := range list {
			if prev, ok := best[c.ID]; !ok || c.Score > prev.Score {
				best[c.ID] = c
			}
		}
	}

	merged := make([]types.Candidate, 0, len(best))
	for _, c := range best {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}

// FilterFigure keeps figure candidates whose caption names figure n exactly.
func FilterFigure(candidates []types.Candidate, n int) []types.Candidate {
	out := make([]types.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Type == types.BundleFigure && captionNames(c.Caption, n) {
			out = append(out, c)
		}
	}
	return out
}

func captionNames(caption string, n int) bool {
	for _, m := range captionFigureRe.FindAllStringSubmatch(caption, -1) {
		if v, err := strconv.Atoi(m[1]); err == nil && v == n {
			return true
		}
	}
	return false
}
