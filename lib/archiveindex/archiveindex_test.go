// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package archiveindex

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimbstor/nimbstor/lib/archive"
	"github.com/nimbstor/nimbstor/lib/backend"
	"github.com/nimbstor/nimbstor/lib/clock"
	"github.com/nimbstor/nimbstor/lib/compression"
	"github.com/nimbstor/nimbstor/lib/dedup"
	"github.com/nimbstor/nimbstor/lib/stream"
)

type fixture struct {
	store   *backend.Memory
	clock   *clock.FakeClock
	session *stream.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: backend.NewMemory(),
		clock: clock.Fake(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) {
	t.Helper()
	session, err := stream.Open(context.Background(), f.store, stream.SessionOptions{
		Compression: compression.Spec{Codec: compression.Zstd},
		BlockSize:   256,
		Clock:       f.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	f.session = session
	t.Cleanup(func() { session.Close(false) })
}

func (f *fixture) reopen(t *testing.T) {
	t.Helper()
	if err := f.session.Close(false); err != nil {
		t.Fatal(err)
	}
	f.open(t)
}

func (f *fixture) write(t *testing.T, at time.Time, options stream.WriterOptions, data []byte) string {
	t.Helper()
	f.clock.Set(at)
	options.CommitEmpty = true
	writer, err := f.session.Create(context.Background(), options)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Write(data); err != nil {
		t.Fatal(err)
	}
	id, err := writer.Close(false)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func content(label string, length int) []byte {
	return bytes.Repeat([]byte(label+" "), length/(len(label)+1)+1)[:length]
}

func TestSearchRanksMatchingYearFirst(t *testing.T) {
	f := newFixture(t)
	march := f.write(t, time.Date(2023, 3, 14, 8, 0, 0, 0, time.UTC),
		stream.WriterOptions{Description: "alpha"}, content("alpha", 700))
	newest := f.write(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
		stream.WriterOptions{Description: "gamma"}, content("gamma", 900))
	november := f.write(t, time.Date(2023, 11, 20, 8, 0, 0, 0, time.UTC),
		stream.WriterOptions{Description: "beta"}, content("beta", 800))

	results := Search(context.Background(), f.session, []string{"2023"})
	if len(results.Errors) != 0 {
		t.Fatalf("Errors = %v", results.Errors)
	}
	if len(results.Results) != 3 {
		t.Fatalf("got %d results, want 3", len(results.Results))
	}
	top := map[string]bool{results.Results[0].Archive.ID: true, results.Results[1].Archive.ID: true}
	if !top[march] || !top[november] {
		t.Errorf("top two results are %v, want the 2023 archives", top)
	}
	if last := results.Results[2]; last.Archive.ID != newest || last.Weight != 0 {
		t.Errorf("last result = %s weight %d, want %s weight 0", last.Archive.ID, last.Weight, newest)
	}
	if results.Results[0].Archive.ID != november {
		t.Errorf("equal weights should rank the newer archive first")
	}
}

func TestWeight(t *testing.T) {
	record := &archive.Archive{
		Description: "Full backup of PAYROLL",
		Keywords:    []string{"Nightly", "db-prod"},
		Timestamp:   time.Date(2023, 5, 6, 7, 8, 9, 0, time.UTC).UnixNano(),
		Size:        4096,
		Metainfo:    map[string]any{"host": "db1"},
	}
	tests := []struct {
		keywords []string
		want     int
	}{
		{[]string{"nightly"}, WeightExactKeyword},
		{[]string{"db"}, WeightKeywordSubstring + WeightMetainfo},
		{[]string{"4096"}, WeightSize},
		{[]string{"payroll"}, WeightDescription},
		{[]string{"2023-05"}, WeightTimestamp},
		{[]string{"07:08:09"}, WeightTimestamp},
		{[]string{"missing"}, 0},
		{[]string{"  "}, 0},
		{[]string{"nightly", "payroll"}, WeightExactKeyword + WeightDescription},
		{nil, 0},
	}
	for _, test := range tests {
		if got := Weight(record, test.keywords); got != test.want {
			t.Errorf("Weight(%q) = %d, want %d", test.keywords, got, test.want)
		}
	}
}

func TestSearchBreaksTiesByRelevance(t *testing.T) {
	f := newFixture(t)
	focused := f.write(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		stream.WriterOptions{Description: "payroll payroll payroll report"}, content("one", 300))
	f.write(t, time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
		stream.WriterOptions{Description: "payroll and other things"}, content("two", 300))

	results := Search(context.Background(), f.session, []string{"payroll"})
	first, second := results.Results[0], results.Results[1]
	if first.Weight != second.Weight {
		t.Fatalf("weights %d and %d, want a tie", first.Weight, second.Weight)
	}
	if first.Archive.ID != focused {
		t.Errorf("first result %s, want the archive with the denser description", first.Archive.ID)
	}
	if first.Relevance <= second.Relevance {
		t.Errorf("relevance %f then %f", first.Relevance, second.Relevance)
	}
}

func TestSearchReportsParentsAndUnreadable(t *testing.T) {
	f := newFixture(t)
	base := f.write(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		stream.WriterOptions{Description: "base"}, content("base", 500))
	child := f.write(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
		stream.WriterOptions{Description: "child", Parent: base}, content("child", 500))
	broken := f.write(t, time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
		stream.WriterOptions{Description: "broken"}, content("broken", 500))
	f.reopen(t)
	if !f.store.Corrupt(archive.MetadataID(broken), 3) {
		t.Fatal("metadata to corrupt is missing")
	}

	results := Search(context.Background(), f.session, nil)
	if got := results.Parents[child]; got != base {
		t.Errorf("Parents[child] = %q, want %q", got, base)
	}
	if _, ok := results.Parents[base]; ok {
		t.Error("root archive has a parent entry")
	}
	if err := results.Errors[broken]; !errors.Is(err, archive.ErrIntegrity) {
		t.Errorf("Errors[broken] = %v, want ErrIntegrity", err)
	}
	if len(results.Results) != 2 {
		t.Errorf("got %d results, want 2 readable archives", len(results.Results))
	}
}

func TestListNewestFirst(t *testing.T) {
	f := newFixture(t)
	older := f.write(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), stream.WriterOptions{}, content("older", 400))
	newer := f.write(t, time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC), stream.WriterOptions{}, content("newer", 400))

	records, failures := List(context.Background(), f.session)
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}
	if len(records) != 2 || records[0].ID != newer || records[1].ID != older {
		t.Errorf("List order wrong: %v", records)
	}
}

func TestLineage(t *testing.T) {
	f := newFixture(t)
	root := f.write(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), stream.WriterOptions{}, content("root", 300))
	middle := f.write(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), stream.WriterOptions{Parent: root}, content("middle", 300))
	leaf := f.write(t, time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), stream.WriterOptions{Parent: middle}, content("leaf", 300))
	orphan := f.write(t, time.Date(2023, 1, 4, 0, 0, 0, 0, time.UTC), stream.WriterOptions{Parent: "GONE"}, content("orphan", 300))

	chain, err := Lineage(context.Background(), f.session, leaf)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, record := range chain {
		ids = append(ids, record.ID)
	}
	if len(ids) != 3 || ids[0] != leaf || ids[1] != middle || ids[2] != root {
		t.Errorf("Lineage = %v, want [leaf middle root]", ids)
	}

	chain, err = Lineage(context.Background(), f.session, orphan)
	if !errors.Is(err, archive.ErrArchiveNotFound) {
		t.Errorf("Lineage of an orphan = %v, want ErrArchiveNotFound", err)
	}
	if len(chain) != 1 || chain[0].ID != orphan {
		t.Errorf("orphan chain = %v", chain)
	}
}

// loopRepository serves hand-built records, which can form parent
// cycles that content-derived ids never do.
type loopRepository struct {
	records map[string]*archive.Archive
}

func (r *loopRepository) Index() *dedup.Index { return dedup.NewIndex() }

func (r *loopRepository) LoadRecord(ctx context.Context, id string) (*archive.Archive, error) {
	record, ok := r.records[id]
	if !ok {
		return nil, archive.ErrArchiveNotFound
	}
	return record, nil
}

func (r *loopRepository) ReadBlock(ctx context.Context, block archive.Block) ([]byte, error) {
	return nil, archive.ErrBlockNotFound
}

func TestLineageCycle(t *testing.T) {
	repository := &loopRepository{records: map[string]*archive.Archive{
		"A": {ID: "A", Parent: "B"},
		"B": {ID: "B", Parent: "A"},
	}}
	chain, err := Lineage(context.Background(), repository, "A")
	if !errors.Is(err, ErrLineageCycle) {
		t.Fatalf("Lineage = %v, want ErrLineageCycle", err)
	}
	if len(chain) != 2 {
		t.Errorf("chain has %d records, want 2", len(chain))
	}
}

func TestVerifyBlocks(t *testing.T) {
	f := newFixture(t)
	data := bytes.Repeat([]byte("0123456789abcdef"), 200)
	data = append(data, content("tail", 333)...)
	id := f.write(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), stream.WriterOptions{}, data)

	report, err := VerifyBlocks(context.Background(), f.session, id)
	if err != nil {
		t.Fatal(err)
	}
	record, err := f.session.LoadRecord(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if report.Blocks != len(record.Blocks) || report.Bytes != int64(len(data)) {
		t.Errorf("report = %+v, want %d blocks and %d bytes", report, len(record.Blocks), len(data))
	}

	f.reopen(t)
	last := record.Blocks[len(record.Blocks)-1]
	if !f.store.Corrupt(last.ID(), 7) {
		t.Fatal("block to corrupt is missing")
	}
	report, err = VerifyBlocks(context.Background(), f.session, id)
	if !errors.Is(err, archive.ErrIntegrity) {
		t.Fatalf("VerifyBlocks over a corrupt block = %v, want ErrIntegrity", err)
	}
	if report.Blocks != len(record.Blocks)-1 {
		t.Errorf("verified %d blocks before the failure, want %d", report.Blocks, len(record.Blocks)-1)
	}
}

func TestBlockExists(t *testing.T) {
	f := newFixture(t)
	id := f.write(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), stream.WriterOptions{}, content("exists", 600))
	record, err := f.session.LoadRecord(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !BlockExists(f.session, record.Blocks[0].ID()) {
		t.Error("written block does not exist")
	}
	if !BlockExists(f.session, archive.MetadataID(id)) {
		t.Error("archive metadata does not exist")
	}
	missing := record.Blocks[0].ID()
	missing.Number += 1000
	if BlockExists(f.session, missing) {
		t.Error("unknown identity exists")
	}
}
