package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/alma-bulk/internal/config"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeCandidates(t *testing.T, path string) {
	t.Helper()
	recs := []mous.Record{
		{ProjectCode: "2019.1.00001.S", MemberOUSUID: "uid://A001/X1/X3", ScienceGoalUID: "uid://A001/X1/X0", GroupOUSUID: "uid://A001/X1/Xa", BandList: []string{"6"}},
		{ProjectCode: "2019.1.00001.S", MemberOUSUID: "uid://A001/X1/X1", ScienceGoalUID: "uid://A001/X1/X0", GroupOUSUID: "uid://A001/X1/Xa", BandList: []string{"3"}},
		{ProjectCode: "2019.1.00002.S", MemberOUSUID: "uid://A001/X1/X2", BandList: []string{"7"}},
	}
	require.NoError(t, mous.WriteCandidates(path, recs))
}

func TestBatchCommandsEndToEnd(t *testing.T) {
	work := t.TempDir()
	dest := filepath.Join(work, "dest")
	shards := filepath.Join(work, "shards")
	candidates := filepath.Join(work, "candidates.jsonl")
	writeCandidates(t, candidates)

	out, err := execute(t, "plan", "--input", candidates, "--out", shards, "--shard-size", "2")
	require.NoError(t, err)
	assert.Equal(t, "Wrote 2 shard files to "+shards+"\n", out)

	shard := filepath.Join(shards, "part-0000.jsonl")
	out, err = execute(t, "run-shard", "--dest", dest, "--shard", shard)
	require.NoError(t, err)
	assert.Equal(t, "Processed 2 MOUS from shard "+shard+" into "+filepath.Join(shards, "part-0000.sqlite")+"\n", out)
	assert.FileExists(t, filepath.Join(shards, "part-0000.sqlite"))

	out, err = execute(t, "merge-index", "--dest", dest, "--shards", shards, "--integrity-check")
	require.NoError(t, err)
	assert.Equal(t, "Merged shard_dbs=1 summary_files=0 integrity=ok\n", out)

	out, err = execute(t, "status", "--dest", dest)
	require.NoError(t, err)
	assert.Contains(t, out, "Counts: discovered=2 downloaded=0 unpacked=0 summarized=0 indexed=2\n")

	out, err = execute(t, "unpack", "--dest", dest)
	require.NoError(t, err)
	assert.Equal(t, "Unpack stage completed for 2 MOUS\n", out)

	out, err = execute(t, "scan", "--dest", dest, "--rebuild-db")
	require.NoError(t, err)
	assert.Equal(t, "Scanned and indexed 2 MOUS directories\n", out)
}

func TestPlanWithEmptyInput(t *testing.T) {
	work := t.TempDir()
	input := filepath.Join(work, "empty.jsonl")
	require.NoError(t, mous.WriteCandidates(input, nil))

	out, err := execute(t, "plan", "--input", input, "--out", filepath.Join(work, "shards"))
	require.NoError(t, err)
	assert.Equal(t, "No records to shard\n", out)
}

func TestDownloadWithoutRecords(t *testing.T) {
	out, err := execute(t, "download", "--dest", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No MOUS records found to download\n", out)
}

func TestStatusWithoutIndex(t *testing.T) {
	_, err := execute(t, "status", "--dest", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index DB not found")
}

func TestDestinationIsRequired(t *testing.T) {
	t.Setenv("ALMA_BULK_PATHS_DEST", "")
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, writeFile(cfgFile, "logging:\n  development: true\n"))

	_, err := execute(t, "--config", cfgFile, "status")
	assert.ErrorIs(t, err, config.ErrDestRequired)
}

func TestRunShardRequiresShardFlag(t *testing.T) {
	_, err := execute(t, "run-shard", "--dest", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shard")
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o600)
}
