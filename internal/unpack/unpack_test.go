package unpack

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testRun() mous.RunContext {
	return mous.RunContext{
		RunID:   "run-test",
		Command: "unpack",
		Clock:   fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
}

type member struct {
	name     string
	body     string
	typeflag byte
	mode     int64
	linkname string
}

func file(name, body string) member { return member{name: name, body: body, typeflag: tar.TypeReg, mode: 0o640} }

func dir(name string) member { return member{name: name, typeflag: tar.TypeDir, mode: 0o755} }

// tarBytes builds an archive in memory, gzip-compressed when gz is set.
func tarBytes(t *testing.T, gz bool, members ...member) []byte {
	t.Helper()
	var buf bytes.Buffer
	var tw *tar.Writer
	var zw *gzip.Writer
	if gz {
		zw = gzip.NewWriter(&buf)
		tw = tar.NewWriter(zw)
	} else {
		tw = tar.NewWriter(&buf)
	}
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.name,
			Typeflag: m.typeflag,
			Mode:     m.mode,
			Size:     int64(len(m.body)),
			Linkname: m.linkname,
			ModTime:  time.Unix(1700000000, 0),
		}
		if m.typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if m.typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(m.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	if zw != nil {
		require.NoError(t, zw.Close())
	}
	return buf.Bytes()
}

func writeArchive(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

// newUnit builds a unit directory with a delivered dir and an empty manifest.
func newUnit(t *testing.T) (*mous.Manifest, string) {
	t.Helper()
	unitDir := t.TempDir()
	delivered := filepath.Join(unitDir, "delivered")
	require.NoError(t, os.MkdirAll(delivered, 0o750))
	m := mous.NewManifest(filepath.Join(unitDir, mous.ManifestFilename), mous.Record{
		ProjectCode:  "2019.1.00001.S",
		MemberOUSUID: "uid://A001/X1/X2",
	}, "2024-05-01T00:00:00Z")
	return m, delivered
}

func addArchive(m *mous.Manifest, kind mous.Kind, path string) {
	m.AddArtifact(mous.Artifact{
		Kind:      kind,
		Filename:  filepath.Base(path),
		LocalPath: path,
		Status:    mous.StatusPresent,
	})
}

func noRecursion() Options {
	opts := DefaultOptions()
	opts.RecursiveEnabled = false
	return opts
}

// TestUnpackAuxiliaryEndToEnd extracts an auxiliary archive, removes it and
// marks the artifact.
func TestUnpackAuxiliaryEndToEnd(t *testing.T) {
	t.Parallel()

	m, delivered := newUnit(t)
	archive := filepath.Join(delivered, "2019.1.00001.S_uid___A001_X1_X2_auxiliary.tar")
	writeArchive(t, archive, tarBytes(t, false,
		dir("qa/"),
		file("qa/pipeline_aquareport.xml", "<QaSummary/>"),
	))
	addArchive(m, mous.KindAuxiliary, archive)

	report, err := New(DefaultOptions(), zap.NewNop()).Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(delivered, "qa", "pipeline_aquareport.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<QaSummary/>", string(data))
	assert.NoFileExists(t, archive)
	assert.Equal(t, []string{archive}, report.Unpacked)

	saved, err := mous.LoadManifest(m.Path)
	require.NoError(t, err)
	art := saved.Artifact(filepath.Base(archive))
	require.NotNil(t, art)
	assert.True(t, art.ArchiveRemovedAfterUnpack)
	assert.Equal(t, delivered, art.UnpackedTo)
	assert.Equal(t, "2024-05-01T12:00:00Z", art.UnpackedAt)
	assert.NotEmpty(t, saved.Unpacked)
	require.Len(t, saved.History, 1)
	assert.Equal(t, mous.EventUnpack, saved.History[0].Event)
	assert.True(t, mous.Satisfied(art, archive, nil))
}

// TestUnpackStripsUnitPrefixAndBackfills removes the science goal, group and
// member layout from member paths and fills missing identifiers.
func TestUnpackStripsUnitPrefixAndBackfills(t *testing.T) {
	t.Parallel()

	const prefix = "2019.1.00001.S/science_goal.uid___A001_X10_X11/group.uid___A001_X12_X13/member.uid___A001_X1_X2"
	m, delivered := newUnit(t)
	m.GroupOUSUID = "uid://A001/X99/unknown"
	archive := filepath.Join(delivered, "weblog.tgz")
	writeArchive(t, archive, tarBytes(t, true,
		dir("2019.1.00001.S/"),
		dir("2019.1.00001.S/science_goal.uid___A001_X10_X11/"),
		dir(prefix+"/"),
		dir(prefix+"/qa/"),
		file(prefix+"/qa/report.html", "ok"),
		file(prefix+"/README", "readme"),
	))
	addArchive(m, mous.KindWeblog, archive)

	_, err := New(noRecursion(), zap.NewNop()).Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(delivered, "qa", "report.html"))
	assert.FileExists(t, filepath.Join(delivered, "README"))
	assert.NoDirExists(t, filepath.Join(delivered, "2019.1.00001.S"))
	assert.Equal(t, "uid://A001/X10/X11", m.ScienceGoalUID)
	assert.Equal(t, "uid://A001/X12/X13", m.GroupOUSUID)
	assert.Equal(t, "uid://A001/X1/X2", m.MousUID)
	assert.Equal(t, prefix, m.Artifact("weblog.tgz").StripPrefix)
}

// TestUnpackStripsParentNamedDirectory handles archives that nest their
// content under a directory named like the target.
func TestUnpackStripsParentNamedDirectory(t *testing.T) {
	t.Parallel()

	m, delivered := newUnit(t)
	archive := filepath.Join(delivered, "readme.tar")
	writeArchive(t, archive, tarBytes(t, false,
		dir("delivered/"),
		file("delivered/README.txt", "hello"),
	))
	addArchive(m, mous.KindReadme, archive)

	_, err := New(noRecursion(), zap.NewNop()).Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(delivered, "README.txt"))
	assert.NoDirExists(t, filepath.Join(delivered, "delivered"))
}

// TestUnpackRejectsTraversal refuses archives with escaping members and
// writes nothing from them.
func TestUnpackRejectsTraversal(t *testing.T) {
	t.Parallel()

	for name, evil := range map[string]string{
		"dotdot":   "../../etc/passwd",
		"absolute": "/etc/passwd",
		"nested":   "qa/../../escape.txt",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			m, delivered := newUnit(t)
			archive := filepath.Join(delivered, "aux.tgz")
			writeArchive(t, archive, tarBytes(t, true,
				file("good.txt", "fine"),
				file(evil, "root::0:0"),
			))
			addArchive(m, mous.KindAuxiliary, archive)

			report, err := New(DefaultOptions(), zap.NewNop()).Unpack(context.Background(), testRun(), m, delivered)
			require.NoError(t, err)

			assert.NoFileExists(t, filepath.Join(delivered, "good.txt"))
			assert.NoFileExists(t, filepath.Join(filepath.Dir(delivered), "escape.txt"))
			assert.FileExists(t, archive)
			require.Len(t, report.Failed, 1)
			assert.Contains(t, report.Failed[0].Error, "unsafe tar member path")

			art := m.Artifact("aux.tgz")
			require.Len(t, art.UnpackErrors, 1)
			assert.False(t, art.ArchiveRemovedAfterUnpack)
			assert.Empty(t, art.UnpackedTo)
		})
	}
}

// TestExtractArchiveUnsafePathError exposes the typed error.
func TestExtractArchiveUnsafePathError(t *testing.T) {
	t.Parallel()

	target := t.TempDir()
	archive := filepath.Join(t.TempDir(), "bad.tar")
	writeArchive(t, archive, tarBytes(t, false, file("../x", "x")))
	names, err := listMembers(archive)
	require.NoError(t, err)

	err = extractArchive(archive, target, names, nil, zap.NewNop())
	var unsafe *UnsafePathError
	require.True(t, errors.As(err, &unsafe))
	assert.Equal(t, "../x", unsafe.Member)
}

// TestUnpackSkipsLinksAndKeepsModes ignores symlinks and preserves permission bits.
func TestUnpackSkipsLinksAndKeepsModes(t *testing.T) {
	t.Parallel()

	m, delivered := newUnit(t)
	archive := filepath.Join(delivered, "aux.tar")
	writeArchive(t, archive, tarBytes(t, false,
		member{name: "bin/run.sh", body: "#!/bin/sh\n", typeflag: tar.TypeReg, mode: 0o750},
		member{name: "zero.txt", body: "z", typeflag: tar.TypeReg, mode: 0},
		member{name: "link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd", mode: 0o777},
	))
	addArchive(m, mous.KindAuxiliary, archive)

	_, err := New(noRecursion(), zap.NewNop()).Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(delivered, "bin", "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())
	info, err = os.Stat(filepath.Join(delivered, "zero.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
	_, err = os.Lstat(filepath.Join(delivered, "link"))
	assert.True(t, os.IsNotExist(err))
}

// TestUnpackSelectsNewestPerKind keeps the newest archive of a kind and
// leaves disallowed kinds alone.
func TestUnpackSelectsNewestPerKind(t *testing.T) {
	t.Parallel()

	m, delivered := newUnit(t)
	older := filepath.Join(delivered, "old_weblog.tgz")
	newer := filepath.Join(delivered, "new_weblog.tgz")
	calib := filepath.Join(delivered, "calibration.tgz")
	writeArchive(t, older, tarBytes(t, true, file("old.txt", "old")))
	writeArchive(t, newer, tarBytes(t, true, file("new.txt", "new")))
	writeArchive(t, calib, tarBytes(t, true, file("cal.txt", "cal")))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))
	addArchive(m, mous.KindWeblog, older)
	addArchive(m, mous.KindWeblog, newer)
	addArchive(m, mous.KindCalibration, calib)

	report, err := New(noRecursion(), zap.NewNop()).Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(delivered, "new.txt"))
	assert.NoFileExists(t, filepath.Join(delivered, "old.txt"))
	assert.NoFileExists(t, filepath.Join(delivered, "cal.txt"))
	assert.FileExists(t, older)
	assert.FileExists(t, calib)

	require.Len(t, report.SelectedArchives, 1)
	assert.Equal(t, "new_weblog.tgz", report.SelectedArchives[0].Filename)
	require.Len(t, report.SkippedArchives, 1)
	assert.Equal(t, "old_weblog.tgz", report.SkippedArchives[0].Filename)
	assert.Equal(t, reasonOlderVersion, report.SkippedArchives[0].Reason)
}

// TestUnpackIdempotencyStamp skips an archive unchanged since its last unpack.
func TestUnpackIdempotencyStamp(t *testing.T) {
	t.Parallel()

	m, delivered := newUnit(t)
	archive := filepath.Join(delivered, "aux.tgz")
	writeArchive(t, archive, tarBytes(t, true, file("data.txt", "original")))
	addArchive(m, mous.KindAuxiliary, archive)

	opts := noRecursion()
	opts.RemoveArchivesAfterUnpack = false
	u := New(opts, zap.NewNop())
	_, err := u.Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)
	assert.FileExists(t, archive)
	assert.False(t, m.Artifact("aux.tgz").ArchiveRemovedAfterUnpack)

	extracted := filepath.Join(delivered, "data.txt")
	require.NoError(t, os.WriteFile(extracted, []byte("edited"), 0o600))

	report, err := u.Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)
	assert.Empty(t, report.Unpacked)
	require.Len(t, report.SkippedArchives, 1)
	assert.Equal(t, reasonUnchanged, report.SkippedArchives[0].Reason)

	data, err := os.ReadFile(extracted)
	require.NoError(t, err)
	assert.Equal(t, "edited", string(data))
	assert.Len(t, m.History, 2)
}

// nestedArchive builds layers archives, each holding the next one, with the
// innermost holding final.txt.
func nestedArchive(t *testing.T, layers int) []byte {
	t.Helper()
	data := tarBytes(t, true, file("final.txt", "done"))
	for i := layers; i > 1; i-- {
		data = tarBytes(t, true, member{
			name:     "layer" + string(rune('0'+i)) + ".auxproducts.tgz",
			body:     string(data),
			typeflag: tar.TypeReg,
			mode:     0o644,
		})
	}
	return data
}

// TestRecursiveUnpackHonorsMaxPasses leaves the innermost of N+1 layers
// packed when only N passes are allowed.
func TestRecursiveUnpackHonorsMaxPasses(t *testing.T) {
	t.Parallel()

	const passes = 2
	m, delivered := newUnit(t)
	writeArchive(t, filepath.Join(delivered, "sub", "layer1.auxproducts.tgz"), nestedArchive(t, passes+1))

	opts := DefaultOptions()
	opts.RecursiveMaxPasses = passes
	report, err := New(opts, zap.NewNop()).Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)

	rec := report.Recursive
	assert.True(t, rec.Enabled)
	assert.Equal(t, passes, rec.UnpackedCount)
	assert.Len(t, rec.Passes, passes)
	assert.NoFileExists(t, filepath.Join(delivered, "sub", "final.txt"))
	assert.FileExists(t, filepath.Join(delivered, "sub", "layer3.auxproducts.tgz"))
	assert.NoFileExists(t, filepath.Join(delivered, "sub", "layer1.auxproducts.tgz"))

	// One more pass finishes the job.
	opts.RecursiveMaxPasses = passes + 1
	m2, delivered2 := newUnit(t)
	writeArchive(t, filepath.Join(delivered2, "layer1.auxproducts.tgz"), nestedArchive(t, passes+1))
	report, err = New(opts, zap.NewNop()).Unpack(context.Background(), testRun(), m2, delivered2)
	require.NoError(t, err)
	assert.Equal(t, passes+1, report.Recursive.UnpackedCount)
	assert.FileExists(t, filepath.Join(delivered2, "final.txt"))
}

// TestRecursiveUnpackPatterns only follows archives matching a pattern and
// records failures without stopping.
func TestRecursiveUnpackPatterns(t *testing.T) {
	t.Parallel()

	m, delivered := newUnit(t)
	writeArchive(t, filepath.Join(delivered, "x.flagversions.tgz"), tarBytes(t, true, file("flags.txt", "f")))
	writeArchive(t, filepath.Join(delivered, "pipeline.WEBLOG.tgz"), tarBytes(t, true, file("index.html", "w")))
	writeArchive(t, filepath.Join(delivered, "broken.caltables.tgz"), []byte("not an archive"))

	report, err := New(DefaultOptions(), zap.NewNop()).Unpack(context.Background(), testRun(), m, delivered)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(delivered, "index.html"))
	assert.NoFileExists(t, filepath.Join(delivered, "flags.txt"))
	assert.Equal(t, 1, report.Recursive.UnpackedCount)
	assert.Equal(t, 1, report.Recursive.ErrorCount)
	require.Len(t, report.Recursive.Passes, 1)
	assert.Len(t, report.Recursive.Passes[0].Errors, 1)
}

// TestDetectUnitPrefix covers both layout variants and disagreement.
func TestDetectUnitPrefix(t *testing.T) {
	t.Parallel()

	three := []string{
		"science_goal.uid___A_B_C/group.uid___A_B_D/member.uid___A_B_E/x.txt",
		"science_goal.uid___A_B_C/group.uid___A_B_D/member.uid___A_B_E/sub/y.txt",
	}
	assert.Equal(t, []string{"science_goal.uid___A_B_C", "group.uid___A_B_D", "member.uid___A_B_E"}, detectUnitPrefix(three))

	four := []string{"P/science_goal.uid___A_B_C/group.uid___A_B_D/member.uid___A_B_E/x.txt", "README"}
	assert.Len(t, detectUnitPrefix(four), 4)

	mixed := append([]string{"science_goal.uid___Z_Z_Z/group.uid___A_B_D/member.uid___A_B_E/x.txt"}, three...)
	assert.Nil(t, detectUnitPrefix(mixed))

	sg, group, member := prefixUIDs(detectUnitPrefix(four))
	assert.Equal(t, "uid://A/B/C", sg)
	assert.Equal(t, "uid://A/B/D", group)
	assert.Equal(t, "uid://A/B/E", member)
}
