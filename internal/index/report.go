package index

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Counts are the unit totals per pipeline flag.
type Counts struct {
	Discovered int `json:"discovered"`
	Downloaded int `json:"downloaded"`
	Unpacked   int `json:"unpacked"`
	Summarized int `json:"summarized"`
	Indexed    int `json:"indexed"`
}

// Bucket is one labelled count.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Todo counts the follow-up work visible in the index.
type Todo struct {
	MissingQA                int `json:"missing_qa"`
	MissingSummary           int `json:"missing_summary"`
	FailedDownloads          int `json:"failed_downloads"`
	FailedAuxiliaryDownloads int `json:"failed_auxiliary_downloads"`
}

// Report is the progress and failure dashboard of a store.
type Report struct {
	Counts          Counts   `json:"counts"`
	FailuresByStage []Bucket `json:"failure_by_stage"`
	TopErrors       []Bucket `json:"top_errors"`
	Bands           []Bucket `json:"band_coverage"`
	ReleaseMonths   []Bucket `json:"release_date_bins"`
	Todo            Todo     `json:"todo"`
}

type reportRow struct {
	Stage       *string `db:"last_error_stage"`
	Message     *string `db:"last_error_message"`
	BandJSON    *string `db:"band_json"`
	ReleaseDate *string `db:"release_date"`
}

// Report aggregates the store. At most topN error messages are returned.
func (s *Store) Report(ctx context.Context, topN int) (Report, error) {
	var rep Report
	counters := []struct {
		dest  *int
		query string
	}{
		{&rep.Counts.Discovered, "SELECT COUNT(*) FROM mous WHERE discovered=1"},
		{&rep.Counts.Downloaded, "SELECT COUNT(*) FROM mous WHERE downloaded=1"},
		{&rep.Counts.Unpacked, "SELECT COUNT(*) FROM mous WHERE unpacked=1"},
		{&rep.Counts.Summarized, "SELECT COUNT(*) FROM mous WHERE summarized=1"},
		{&rep.Counts.Indexed, "SELECT COUNT(*) FROM mous WHERE indexed=1"},
		{&rep.Todo.MissingQA, "SELECT COUNT(*) FROM mous WHERE summarized=1 AND COALESCE(asa_qa_present, 0)=0"},
		{&rep.Todo.MissingSummary, "SELECT COUNT(*) FROM mous WHERE summarized=0"},
		{&rep.Todo.FailedDownloads, "SELECT COUNT(*) FROM artifact WHERE status='error'"},
		{&rep.Todo.FailedAuxiliaryDownloads, "SELECT COUNT(*) FROM artifact WHERE status='error' AND kind='auxiliary'"},
	}
	for _, c := range counters {
		if err := s.db.GetContext(ctx, c.dest, c.query); err != nil {
			return Report{}, fmt.Errorf("report count: %w", err)
		}
	}

	var rows []reportRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT last_error_stage, last_error_message, band_json, release_date FROM mous ORDER BY mous_uid"); err != nil {
		return Report{}, fmt.Errorf("report rows: %w", err)
	}

	stages := newTally()
	messages := newTally()
	bands := newTally()
	months := newTally()
	for _, r := range rows {
		if r.Stage != nil && *r.Stage != "" {
			stages.add(*r.Stage)
		}
		if r.Message != nil && *r.Message != "" {
			messages.add(*r.Message)
		}
		var items []any
		if r.BandJSON != nil {
			_ = json.Unmarshal([]byte(*r.BandJSON), &items)
		}
		if len(items) == 0 {
			bands.add("unknown")
		}
		for _, b := range items {
			bands.add(fmt.Sprint(b))
		}
		release := ""
		if r.ReleaseDate != nil {
			release = *r.ReleaseDate
		}
		months.add(releaseMonth(release))
	}

	rep.FailuresByStage = stages.byCount()
	rep.TopErrors = messages.byCount()
	if topN >= 0 && len(rep.TopErrors) > topN {
		rep.TopErrors = rep.TopErrors[:topN]
	}
	rep.Bands = bands.byLabel()
	rep.ReleaseMonths = months.byLabel()
	return rep, nil
}

// tally counts labels, remembering first-seen order for stable ties.
type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: map[string]int{}}
}

func (t *tally) add(label string) {
	if _, ok := t.counts[label]; !ok {
		t.order = append(t.order, label)
	}
	t.counts[label]++
}

// byCount sorts by descending count, keeping first-seen order among ties.
func (t *tally) byCount() []Bucket {
	out := t.buckets()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func (t *tally) byLabel() []Bucket {
	out := t.buckets()
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (t *tally) buckets() []Bucket {
	out := make([]Bucket, 0, len(t.order))
	for _, label := range t.order {
		out = append(out, Bucket{Label: label, Count: t.counts[label]})
	}
	return out
}

var releaseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// releaseMonth bins a release date as YYYY-MM. Unparseable values fall back
// to their first seven characters.
func releaseMonth(date string) string {
	if date == "" {
		return "unknown"
	}
	for _, layout := range releaseLayouts {
		if t, err := time.Parse(layout, strings.TrimSuffix(date, "Z")); err == nil {
			return t.Format("2006-01")
		}
		if t, err := time.Parse(layout, date); err == nil {
			return t.Format("2006-01")
		}
	}
	if len(date) >= 7 {
		return date[:7]
	}
	return "unknown"
}

// FormatReport renders the text dashboard.
func FormatReport(w io.Writer, rep Report) error {
	var b strings.Builder
	b.WriteString("ALMA Bulk Status\n")
	b.WriteString("================\n")
	fmt.Fprintf(&b, "Counts: discovered=%d downloaded=%d unpacked=%d summarized=%d indexed=%d\n",
		rep.Counts.Discovered, rep.Counts.Downloaded, rep.Counts.Unpacked, rep.Counts.Summarized, rep.Counts.Indexed)

	b.WriteString("\nFailures by stage:\n")
	stages := append([]Bucket(nil), rep.FailuresByStage...)
	sort.Slice(stages, func(i, j int) bool {
		if stages[i].Count != stages[j].Count {
			return stages[i].Count > stages[j].Count
		}
		return stages[i].Label < stages[j].Label
	})
	writeBuckets(&b, stages, "- %s: %d\n", true)

	b.WriteString("\nTop error messages:\n")
	if len(rep.TopErrors) == 0 {
		b.WriteString("- none\n")
	}
	for _, e := range rep.TopErrors {
		fmt.Fprintf(&b, "- (%d) %s\n", e.Count, e.Label)
	}

	b.WriteString("\nCoverage by band:\n")
	writeBuckets(&b, rep.Bands, "- %s: %d\n", false)
	b.WriteString("\nCoverage by release month:\n")
	writeBuckets(&b, rep.ReleaseMonths, "- %s: %d\n", false)

	b.WriteString("\nTo do next:\n")
	fmt.Fprintf(&b, "- missing_qa: %d\n", rep.Todo.MissingQA)
	fmt.Fprintf(&b, "- missing_summary: %d\n", rep.Todo.MissingSummary)
	fmt.Fprintf(&b, "- failed_downloads: %d\n", rep.Todo.FailedDownloads)
	fmt.Fprintf(&b, "- failed_auxiliary_downloads: %d\n", rep.Todo.FailedAuxiliaryDownloads)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeBuckets(b *strings.Builder, buckets []Bucket, format string, noneWhenEmpty bool) {
	if len(buckets) == 0 && noneWhenEmpty {
		b.WriteString("- none\n")
		return
	}
	for _, bucket := range buckets {
		fmt.Fprintf(b, format, bucket.Label, bucket.Count)
	}
}
