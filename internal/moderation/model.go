package moderation

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// DefaultThreshold is the score above which a message is considered abusive.
const DefaultThreshold = 0.50

//go:embed default_terms.txt
var defaultTerms []byte

// Compiled patterns scored independently of the term list. RE2 has no
// backreferences, so flooding checks stay linear scans (see hasCharFlood).
var threatPattern = regexp.MustCompile(`(?i)\b(kill|hurt|find|destroy)\s+(you|u|your family)\b`)

// Model is the moderator-side toxicity scorer: a weighted term list plus a
// small set of phrase patterns. It approximates the classifier the service
// contract promises — callers only ever see the boolean verdict.
type Model struct {
	threshold float64
	terms     map[string]float64
}

// LoadModel builds a Model from the term file at path, or from the embedded
// default list when path is empty. The file format is one entry per line:
// a term (lowercase, may contain spaces) followed by a weight in (0, 1];
// blank lines and #-comments are skipped. Any parse error fails the load —
// the moderator cannot serve without its model.
func LoadModel(path string) (*Model, error) {
	var data []byte
	if path == "" {
		data = defaultTerms
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("moderation: read model %s: %w", path, err)
		}
	}

	terms := make(map[string]float64)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("moderation: model line %d: want \"term weight\", got %q", lineNo, line)
		}

		weight, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil || weight <= 0 || weight > 1 {
			return nil, fmt.Errorf("moderation: model line %d: bad weight %q", lineNo, fields[len(fields)-1])
		}

		term := strings.ToLower(strings.Join(fields[:len(fields)-1], " "))
		terms[term] = weight
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("moderation: scan model: %w", err)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("moderation: model is empty")
	}

	return &Model{threshold: DefaultThreshold, terms: terms}, nil
}

// Abusive scores text and reports whether the highest-scoring signal crosses
// the threshold.
func (m *Model) Abusive(text string) bool {
	return m.Score(text) > m.threshold
}

// Score returns the maximum weight among all matched terms and patterns, in
// [0, 1]. Terms match on word boundaries against the lowercased text.
func (m *Model) Score(text string) float64 {
	lower := strings.ToLower(text)
	padded := " " + strings.Join(strings.Fields(lower), " ") + " "

	var score float64
	for term, weight := range m.terms {
		if weight <= score {
			continue
		}
		if strings.Contains(padded, " "+term+" ") {
			score = weight
		}
	}

	if score < 0.9 && threatPattern.MatchString(lower) {
		score = 0.9
	}
	if score < 0.6 && hasCharFlood(lower) {
		score = 0.6
	}
	return score
}

// hasCharFlood returns true if text contains 8 or more consecutive identical
// characters. RE2 cannot express this with backreferences, so it is a simple
// linear scan.
func hasCharFlood(text string) bool {
	const threshold = 8

	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= threshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}
