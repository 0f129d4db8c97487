// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archiveindex

import (
	"math"
	"regexp"
	"strings"
)

// BM25 parameters (Okapi variant, standard values).
const (
	paramK1      = 1.2
	paramB       = 0.75
	paramEpsilon = 0.25
)

// Field weights: keywords are curated by the author, descriptions are
// free text.
const (
	keywordFieldWeight     = 2
	descriptionFieldWeight = 1
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// relevance is a BM25 index over archive descriptions and keywords. It
// only breaks ties between equal keyword weights.
type relevance struct {
	termFrequencies          []map[string]int
	lengths                  []int
	averageLength            float64
	inverseDocumentFrequency map[string]float64
}

func newRelevance(descriptions []string, keywords [][]string) *relevance {
	r := &relevance{
		termFrequencies:          make([]map[string]int, len(descriptions)),
		lengths:                  make([]int, len(descriptions)),
		inverseDocumentFrequency: make(map[string]float64),
	}
	documentFrequency := make(map[string]int)
	var totalLength int

	for i, description := range descriptions {
		var tokens []string
		for range descriptionFieldWeight {
			tokens = append(tokens, tokenize(description)...)
		}
		for _, keyword := range keywords[i] {
			for range keywordFieldWeight {
				tokens = append(tokens, tokenize(keyword)...)
			}
		}
		r.lengths[i] = len(tokens)
		totalLength += len(tokens)

		frequency := make(map[string]int)
		for _, token := range tokens {
			if frequency[token] == 0 {
				documentFrequency[token]++
			}
			frequency[token]++
		}
		r.termFrequencies[i] = frequency
	}

	if len(descriptions) > 0 {
		r.averageLength = float64(totalLength) / float64(len(descriptions))
	}
	count := float64(len(descriptions))
	for term, frequency := range documentFrequency {
		idf := math.Log(1 + (count-float64(frequency)+0.5)/(float64(frequency)+0.5))
		if idf < 0 {
			idf = paramEpsilon
		}
		r.inverseDocumentFrequency[term] = idf
	}
	return r
}

// score returns the BM25 score of document i for the query tokens.
func (r *relevance) score(i int, query []string) float64 {
	if r.averageLength == 0 {
		return 0
	}
	frequencies := r.termFrequencies[i]
	length := float64(r.lengths[i])
	var score float64
	for _, token := range query {
		idf, ok := r.inverseDocumentFrequency[token]
		if !ok {
			continue
		}
		frequency := float64(frequencies[token])
		if frequency == 0 {
			continue
		}
		numerator := frequency * (paramK1 + 1)
		denominator := frequency + paramK1*(1-paramB+paramB*length/r.averageLength)
		score += idf * numerator / denominator
	}
	return score
}

// tokenize splits text into lowercase alphanumeric tokens of at least
// two characters.
func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := matches[:0]
	for _, match := range matches {
		if len(match) >= 2 {
			tokens = append(tokens, match)
		}
	}
	return tokens
}
