// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archiveindex

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/dedup"
)

// Repository is the read side of an open repository.
type Repository interface {
	Index() *dedup.Index
	LoadRecord(ctx context.Context, id string) (*archive.Archive, error)
	ReadBlock(ctx context.Context, block archive.Block) ([]byte, error)
}

// Keyword weights, applied per search keyword.
const (
	WeightExactKeyword     = 10
	WeightKeywordSubstring = 5
	WeightTimestamp        = 4
	WeightSize             = 3
	WeightDescription      = 3
	WeightMetainfo         = 1
)

// TimestampLayout is how archive times are rendered for matching and
// display.
const TimestampLayout = "2006-01-02 15:04:05"

// ErrLineageCycle is returned by Lineage when parent links loop.
var ErrLineageCycle = errors.New("archive lineage contains a cycle")

// Result is one archive of a search.
type Result struct {
	Archive *archive.Archive

	// Weight is the keyword match weight. Zero means no keyword
	// matched.
	Weight int

	// Relevance is the BM25 score of the keywords against the
	// archive's description and keywords.
	Relevance float64
}

// SearchResults is the outcome of Search.
type SearchResults struct {
	// Results holds every readable archive, best match first.
	Results []Result

	// Parents maps archive id to parent id for archives that have a
	// parent.
	Parents map[string]string

	// Errors maps the id of every archive whose record could not be
	// read to the reason.
	Errors map[string]error
}

// List returns every readable archive record, newest first, and the
// read errors of the rest.
func List(ctx context.Context, repository Repository) ([]*archive.Archive, map[string]error) {
	var records []*archive.Archive
	failures := make(map[string]error)
	for _, id := range repository.Index().Archives() {
		if err := ctx.Err(); err != nil {
			failures[id] = err
			continue
		}
		record, err := repository.LoadRecord(ctx, id)
		if err != nil {
			failures[id] = err
			continue
		}
		records = append(records, record)
	}
	slices.SortFunc(records, func(a, b *archive.Archive) int {
		return cmp.Or(cmp.Compare(b.Timestamp, a.Timestamp), cmp.Compare(a.ID, b.ID))
	})
	return records, failures
}

// Search ranks every archive by how well it matches keywords. Ties in
// weight are broken by relevance, then by recency.
func Search(ctx context.Context, repository Repository, keywords []string) *SearchResults {
	records, failures := List(ctx, repository)

	descriptions := make([]string, len(records))
	recordKeywords := make([][]string, len(records))
	for i, record := range records {
		descriptions[i] = record.Description
		recordKeywords[i] = record.Keywords
	}
	ranking := newRelevance(descriptions, recordKeywords)
	var query []string
	for _, keyword := range keywords {
		query = append(query, tokenize(keyword)...)
	}

	results := &SearchResults{
		Results: make([]Result, len(records)),
		Parents: make(map[string]string),
		Errors:  failures,
	}
	for i, record := range records {
		results.Results[i] = Result{
			Archive:   record,
			Weight:    Weight(record, keywords),
			Relevance: ranking.score(i, query),
		}
		if record.Parent != "" {
			results.Parents[record.ID] = record.Parent
		}
	}
	slices.SortStableFunc(results.Results, func(a, b Result) int {
		return cmp.Or(
			cmp.Compare(b.Weight, a.Weight),
			cmp.Compare(b.Relevance, a.Relevance),
			cmp.Compare(b.Archive.Timestamp, a.Archive.Timestamp),
		)
	})
	return results
}

// Weight scores record against keywords. Matching is case-insensitive
// and each keyword contributes independently.
func Weight(record *archive.Archive, keywords []string) int {
	timestamp := record.Time().Format(TimestampLayout)
	size := strconv.FormatInt(record.Size, 10)
	description := strings.ToLower(record.Description)
	metainfo := renderMetainfo(record.Metainfo)

	total := 0
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}

		best := 0
		for _, candidate := range record.Keywords {
			candidate = strings.ToLower(candidate)
			switch {
			case candidate == keyword:
				best = WeightExactKeyword
			case best == 0 && strings.Contains(candidate, keyword):
				best = WeightKeywordSubstring
			}
		}
		total += best

		if strings.Contains(timestamp, keyword) {
			total += WeightTimestamp
		}
		if size == keyword {
			total += WeightSize
		}
		if strings.Contains(description, keyword) {
			total += WeightDescription
		}
		if metainfo != "" && strings.Contains(metainfo, keyword) {
			total += WeightMetainfo
		}
	}
	return total
}

// renderMetainfo returns the lower-cased JSON form of value, or "" when
// it has none.
func renderMetainfo(value any) string {
	if value == nil {
		return ""
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return strings.ToLower(fmt.Sprint(value))
	}
	return strings.ToLower(string(encoded))
}

// Lineage returns the archive id followed by its ancestors, nearest
// first. A missing ancestor ends the walk with an error wrapping
// archive.ErrArchiveNotFound; the records read so far are returned
// with it.
func Lineage(ctx context.Context, repository Repository, id string) ([]*archive.Archive, error) {
	var chain []*archive.Archive
	seen := make(map[string]bool)
	for current := id; current != ""; {
		if seen[current] {
			return chain, fmt.Errorf("%w: %s appears twice", ErrLineageCycle, current)
		}
		seen[current] = true
		record, err := repository.LoadRecord(ctx, current)
		if err != nil {
			if len(chain) > 0 {
				return chain, fmt.Errorf("parent of %s: %w", chain[len(chain)-1].ID, err)
			}
			return nil, err
		}
		chain = append(chain, record)
		current = record.Parent
	}
	return chain, nil
}

// VerifyReport summarizes a verification.
type VerifyReport struct {
	Blocks int
	Bytes  int64
}

// VerifyBlocks reads and decodes every block of archive id in order,
// including blocks shared with other archives. It stops at the first
// failure.
func VerifyBlocks(ctx context.Context, repository Repository, id string) (VerifyReport, error) {
	var report VerifyReport
	record, err := repository.LoadRecord(ctx, id)
	if err != nil {
		return report, err
	}
	for _, block := range record.Blocks {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		plaintext, err := repository.ReadBlock(ctx, block)
		if err != nil {
			return report, fmt.Errorf("archive %s: %w", id, err)
		}
		report.Blocks++
		report.Bytes += int64(len(plaintext))
	}
	if report.Bytes != record.Size {
		return report, fmt.Errorf("archive %s: decoded %d bytes, record says %d: %w",
			id, report.Bytes, record.Size, archive.ErrIntegrity)
	}
	return report, nil
}

// BlockExists reports whether the repository holds the identity.
func BlockExists(repository Repository, id archive.BlockID) bool {
	return repository.Index().Contains(id)
}
