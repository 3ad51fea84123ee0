package classify

import (
	"fmt"
	"math"
	"strings"
)

// Weights control how much each pairwise comparison contributes to the back
// score. Backs of archive photographs are mostly white paper with handwritten
// identifiers, so whiteness and brightness dominate.
type Weights struct {
	Brightness float64
	Whiteness  float64
	EdgeTarget float64
	HistPeak   float64
	FileSize   float64

	// TextEdgeDensity is the edge density typical of a text-bearing back;
	// the image closer to it wins the edge comparison.
	TextEdgeDensity float64
}

// DefaultWeights returns the scoring weights tuned on archive scans.
func DefaultWeights() Weights {
	return Weights{
		Brightness:      2,
		Whiteness:       3,
		EdgeTarget:      1,
		HistPeak:        1,
		FileSize:        0.5,
		TextEdgeDensity: 0.05,
	}
}

// Candidate is one image of a pair under classification.
type Candidate struct {
	Name    string
	Metrics Metrics
}

// Decision names which image of a pair is the back, with the score totals and
// a human-readable justification.
type Decision struct {
	BackName   string
	FrontName  string
	BackScore  float64
	FrontScore float64
	Reasoning  string
}

// ClassifyPair scores the two candidates and declares the higher total the
// back. Comparisons only award points on a strict win, so the result is
// independent of argument order; an exact score tie (impossible with the
// default weights but reachable with custom ones) is broken by lexical
// filename order.
func (w Weights) ClassifyPair(a, b Candidate) Decision {
	var scoreA, scoreB float64
	var parts []string

	if a.Metrics.Brightness != b.Metrics.Brightness {
		winner, loser := &a, &b
		score := &scoreA
		if b.Metrics.Brightness > a.Metrics.Brightness {
			winner, loser = &b, &a
			score = &scoreB
		}
		*score += w.Brightness
		parts = append(parts, fmt.Sprintf("%s is brighter (%.1f vs %.1f)",
			winner.Name, winner.Metrics.Brightness, loser.Metrics.Brightness))
	}

	if a.Metrics.WhitenessRatio != b.Metrics.WhitenessRatio {
		winner, loser := &a, &b
		score := &scoreA
		if b.Metrics.WhitenessRatio > a.Metrics.WhitenessRatio {
			winner, loser = &b, &a
			score = &scoreB
		}
		*score += w.Whiteness
		parts = append(parts, fmt.Sprintf("%s has more white pixels (%.2f vs %.2f)",
			winner.Name, winner.Metrics.WhitenessRatio, loser.Metrics.WhitenessRatio))
	}

	diffA := math.Abs(a.Metrics.EdgeDensity - w.TextEdgeDensity)
	diffB := math.Abs(b.Metrics.EdgeDensity - w.TextEdgeDensity)
	if diffA != diffB {
		winner := &a
		score := &scoreA
		if diffB < diffA {
			winner = &b
			score = &scoreB
		}
		*score += w.EdgeTarget
		parts = append(parts, fmt.Sprintf("%s has edge density closer to text (%.3f)",
			winner.Name, winner.Metrics.EdgeDensity))
	}

	if a.Metrics.HistPeakPos != b.Metrics.HistPeakPos {
		winner, loser := &a, &b
		score := &scoreA
		if b.Metrics.HistPeakPos > a.Metrics.HistPeakPos {
			winner, loser = &b, &a
			score = &scoreB
		}
		*score += w.HistPeak
		parts = append(parts, fmt.Sprintf("%s has whiter histogram peak (%d vs %d)",
			winner.Name, winner.Metrics.HistPeakPos, loser.Metrics.HistPeakPos))
	}

	if a.Metrics.FileSizeMB != b.Metrics.FileSizeMB {
		winner, loser := &a, &b
		score := &scoreA
		if b.Metrics.FileSizeMB < a.Metrics.FileSizeMB {
			winner, loser = &b, &a
			score = &scoreB
		}
		*score += w.FileSize
		parts = append(parts, fmt.Sprintf("%s is the smaller file (%.2fMB vs %.2fMB)",
			winner.Name, winner.Metrics.FileSizeMB, loser.Metrics.FileSizeMB))
	}

	back, front := a, b
	backScore, frontScore := scoreA, scoreB
	switch {
	case scoreB > scoreA:
		back, front = b, a
		backScore, frontScore = scoreB, scoreA
	case scoreA == scoreB:
		// Deterministic tie-break: lexically smaller filename is the back.
		if strings.Compare(b.Name, a.Name) < 0 {
			back, front = b, a
			backScore, frontScore = scoreB, scoreA
		}
		parts = append(parts, "scores tied, broke tie on filename order")
	}

	reasoning := fmt.Sprintf("classified %s as back (score %.1f vs %.1f): %s",
		back.Name, backScore, frontScore, strings.Join(parts, "; "))

	return Decision{
		BackName:   back.Name,
		FrontName:  front.Name,
		BackScore:  backScore,
		FrontScore: frontScore,
		Reasoning:  reasoning,
	}
}
