package layout

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

func record() mous.Record {
	return mous.Record{
		ProjectCode:    "2019.1.00001.S",
		MemberOUSUID:   "uid://A001/X1/X2",
		GroupOUSUID:    "uid://A001/X1/X3",
		ScienceGoalUID: "uid://A001/X1/X4",
	}
}

func TestPreferredDir(t *testing.T) {
	t.Parallel()

	root := "/data"
	assert.Equal(t,
		filepath.Join(root, "2019.1.00001.S", "science_goal.uid___A001_X1_X4", "group.uid___A001_X1_X3", "member.uid___A001_X1_X2"),
		PreferredDir(root, record()))

	bare := mous.Record{MemberOUSUID: "uid://A001/X1/X2"}
	assert.Equal(t,
		filepath.Join(root, FallbackProject, FallbackScienceGoal, FallbackGroup, "member.uid___A001_X1_X2"),
		PreferredDir(root, bare))
}

func TestUnitDirResolution(t *testing.T) {
	t.Parallel()

	t.Run("preferred when nothing exists", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		dir, err := UnitDir(root, record())
		require.NoError(t, err)
		assert.Equal(t, PreferredDir(root, record()), dir)
	})

	t.Run("legacy wins", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		legacy := legacyDir(root, record())
		require.NoError(t, os.MkdirAll(legacy, 0o750))
		require.NoError(t, os.MkdirAll(PreferredDir(root, record()), 0o750))
		dir, err := UnitDir(root, record())
		require.NoError(t, err)
		assert.Equal(t, legacy, dir)
	})

	t.Run("existing member under other parents", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		existing := filepath.Join(root, "2019.1.00001.S", "science_goal.uid___unknown", "group.uid___unknown", "member.uid___A001_X1_X2")
		require.NoError(t, os.MkdirAll(existing, 0o750))
		dir, err := UnitDir(root, record())
		require.NoError(t, err)
		assert.Equal(t, existing, dir)
	})

	t.Run("empty member uid", func(t *testing.T) {
		t.Parallel()
		_, err := UnitDir(t.TempDir(), mous.Record{ProjectCode: "p"})
		assert.Error(t, err)
	})
}

func TestEnsureCreatesSubdirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	p, err := Ensure(root, record())
	require.NoError(t, err)
	assert.DirExists(t, p.Delivered)
	assert.DirExists(t, p.Run1)
	assert.Equal(t, filepath.Join(p.UnitDir, mous.ManifestFilename), p.Manifest)
	assert.Equal(t, filepath.Join(p.UnitDir, mous.SummaryFilename), p.Summary)
}

func TestFindUnitDirs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	named := filepath.Join(root, "p", "sg", "g", "member.uid___A_B_C")
	legacy := filepath.Join(root, "x", "member_uid___D_E_F")
	withSummary := filepath.Join(root, "loose")
	for _, d := range []string{named, legacy, withSummary, filepath.Join(root, "empty")} {
		require.NoError(t, os.MkdirAll(d, 0o750))
	}
	require.NoError(t, os.WriteFile(filepath.Join(withSummary, mous.SummaryFilename), []byte("{}"), 0o600))

	dirs, err := FindUnitDirs(root)
	require.NoError(t, err)
	assert.Equal(t, []string{withSummary, named, legacy}, dirs)
}
