package mous

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	return Record{
		ProjectCode:    "2019.1.00001.S",
		MemberOUSUID:   "uid://A001/X1/X2",
		GroupOUSUID:    "uid://A001/X1/X3",
		ScienceGoalUID: "uid://A001/X1/X4",
		EBUIDs:         []string{"uid://A002/X1/X1"},
		BandList:       []string{"BAND 6"},
		ReleaseDate:    "2021-03-01",
		QA2Passed:      QABool(true),
	}
}

// TestNewManifestSeedsFromRecord ensures a fresh manifest mirrors the record.
func TestNewManifestSeedsFromRecord(t *testing.T) {
	t.Parallel()

	m := NewManifest("/tmp/x.json", testRecord(), "2024-01-01T00:00:00Z")
	assert.Equal(t, "uid://A001/X1/X2", m.MousUID)
	assert.Equal(t, "2019.1.00001.S", m.ProjectCode)
	assert.Equal(t, []string{"BAND 6"}, m.BandList)
	assert.Equal(t, "2024-01-01T00:00:00Z", m.CreatedAt)
	assert.NotNil(t, m.Artifacts)
	assert.NotNil(t, m.History)
	v, ok := m.QA2Passed.Bool()
	assert.True(t, ok)
	assert.True(t, v)
}

// TestLoadOrInitManifestKeepsExistingValues checks only empty fields are filled.
func TestLoadOrInitManifestKeepsExistingValues(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ManifestFilename)
	existing := `{"mous_uid":"uid://A001/X1/X2","project_code":"OLD","band_list":[],"qa2_passed":"SEMIPASS","artifacts":[{"kind":"weblog","filename":"w.tgz","url":"u","local_path":"p","size_bytes":3,"status":"present","archive_removed_after_unpack":false}]}`
	require.NoError(t, os.WriteFile(path, []byte(existing), 0o600))

	m, err := LoadOrInitManifest(path, testRecord(), "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "OLD", m.ProjectCode)
	assert.Equal(t, []string{"BAND 6"}, m.BandList)
	assert.Equal(t, "uid://A001/X1/X4", m.ScienceGoalUID)
	text, ok := m.QA2Passed.Text()
	assert.True(t, ok)
	assert.Equal(t, "SEMIPASS", text)
	require.Len(t, m.Artifacts, 1)
	assert.Equal(t, KindWeblog, m.Artifacts[0].Kind)
	assert.Equal(t, path, m.Path)
}

// TestLoadOrInitManifestMissingFile seeds a new manifest when nothing is on disk.
func TestLoadOrInitManifestMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "unit", ManifestFilename)
	m, err := LoadOrInitManifest(path, testRecord(), "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "uid://A001/X1/X2", m.MousUID)
	assert.Empty(t, m.Artifacts)
}

// TestManifestSaveRoundTrip verifies atomic save output and trailing newline.
func TestManifestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "unit", ManifestFilename)
	m := NewManifest(path, testRecord(), "2024-01-01T00:00:00Z")
	size := int64(10)
	m.AddArtifact(Artifact{Kind: KindAuxiliary, Filename: "a.tgz", SizeBytes: &size, Status: StatusPresent})
	m.AddArtifact(Artifact{Kind: KindAuxiliary, Filename: "a.tgz", SizeBytes: &size, Status: StatusError, Error: "boom"})
	require.NoError(t, m.Save("2024-01-02T00:00:00Z"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), data[len(data)-1])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")

	loaded, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, loaded.Artifacts, 1)
	assert.Equal(t, StatusError, loaded.Artifacts[0].Status)
	assert.Equal(t, "2024-01-02T00:00:00Z", loaded.UpdatedAt)
	assert.Equal(t, "a.tgz", loaded.FirstError().Filename)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, true, raw["qa2_passed"])
}

// TestSatisfied covers both on-disk and post-unpack satisfaction.
func TestSatisfied(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.tgz")
	require.NoError(t, os.WriteFile(path, []byte("12345"), 0o600))
	five, six := int64(5), int64(6)

	assert.True(t, Satisfied(nil, path, &five))
	assert.True(t, Satisfied(nil, path, nil))
	assert.False(t, Satisfied(nil, path, &six))
	assert.False(t, Satisfied(nil, filepath.Join(dir, "missing"), nil))

	unpacked := &Artifact{UnpackedTo: dir, ArchiveRemovedAfterUnpack: true}
	assert.True(t, Satisfied(unpacked, filepath.Join(dir, "missing"), &six))
	assert.False(t, Satisfied(&Artifact{ArchiveRemovedAfterUnpack: true}, filepath.Join(dir, "missing"), nil))
}

// TestQAValueJSON checks each encoding survives a round trip unchanged.
func TestQAValueJSON(t *testing.T) {
	t.Parallel()

	for _, in := range []string{`true`, `false`, `"T"`, `"PASS"`, `1`} {
		var v QAValue
		require.NoError(t, json.Unmarshal([]byte(in), &v), in)
		assert.False(t, v.IsZero(), in)
		out, err := json.Marshal(v)
		require.NoError(t, err)
		if in == `1` {
			assert.Equal(t, `"1"`, string(out))
			continue
		}
		assert.Equal(t, in, string(out))
	}

	var null QAValue
	require.NoError(t, json.Unmarshal([]byte(`null`), &null))
	assert.True(t, null.IsZero())
}

// TestCandidatesRoundTrip writes and reads JSON Lines records.
func TestCandidatesRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "c", "candidates.jsonl")
	rec := testRecord()
	other := Record{ProjectCode: "P", MemberOUSUID: "uid://A001/X9/X9"}
	require.NoError(t, WriteCandidates(path, []Record{rec, other}))

	got, err := ReadCandidates(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, rec.MemberOUSUID, got[0].MemberOUSUID)
	assert.Equal(t, []string{}, got[1].EBUIDs)
	assert.True(t, got[1].QA2Passed.IsZero())
}

// TestReadCandidatesRejectsIncompleteRecords flags records missing keys.
func TestReadCandidatesRejectsIncompleteRecords(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("\n{\"project_code\":\"P\"}\n"), 0o600))
	_, err := ReadCandidates(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ":2:")
}

// TestUIDSegments covers the UID to path conversions.
func TestUIDSegments(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "uid___A001_X1_X2", UIDToPathSegment("uid://A001/X1/X2"))
	assert.Equal(t, "uid___A001_X1_X2", UIDToPathSegment(" uid___A001_X1_X2 "))
	assert.Equal(t, "uid___abc_d_e", UIDToPathSegment("abc d:e"))
	assert.Equal(t, "uid://A001/X1/X2", UIDFromPathSegment("uid___A001_X1_X2"))
	assert.Equal(t, "uid://A001/X1/X2_b", UIDFromPathSegment("uid___A001_X1_X2_b"))
	assert.Equal(t, "", UIDFromPathSegment("uid___A001_X1"))
	assert.True(t, IsUnknownUID(""))
	assert.True(t, IsUnknownUID("uid___unknown"))
	assert.False(t, IsUnknownUID("uid://A001/X1/X2"))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fixedIDs struct{}

func (fixedIDs) NewID() (string, error) { return "run-1", nil }

// TestRunContextTimestamp ensures timestamps are UTC and second precision.
func TestRunContextTimestamp(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("X", 3600)
	clk := fixedClock{t: time.Date(2024, 5, 6, 8, 9, 10, 999, loc)}
	rc, err := NewRunContext("download", "1.0.0", "part-0000", clk, fixedIDs{})
	require.NoError(t, err)
	assert.Equal(t, "run-1", rc.RunID)
	assert.Equal(t, "2024-05-06T07:09:10Z", rc.Timestamp())

	entry := rc.History(EventDownload)
	assert.Equal(t, "download", entry.Event)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, time.Duration(0), rc.Elapsed())
}

func TestUnpackCurrent(t *testing.T) {
	t.Parallel()

	mtime := time.Unix(1714564800, 0)
	stamp := ArchiveStamp(10, mtime)
	assert.Equal(t, "10:1714564800", stamp)

	m := NewManifest(filepath.Join(t.TempDir(), ManifestFilename), testRecord(), "2024-05-01T00:00:00Z")
	assert.False(t, m.UnpackCurrent("aux.tgz", stamp))

	m.Unpacked = map[string]string{"aux.tgz": stamp}
	assert.True(t, m.UnpackCurrent("aux.tgz", stamp))
	assert.False(t, m.UnpackCurrent("aux.tgz", ArchiveStamp(11, mtime)))
	assert.False(t, m.UnpackCurrent("aux.tgz", ArchiveStamp(10, mtime.Add(time.Second))))
	assert.False(t, m.UnpackCurrent("other.tgz", ""))
}
