package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/JakeFAU/alma-bulk/internal/layout"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// PlanFilename is written next to the shard files.
const PlanFilename = "plan.json"

// Plan describes a set of shard files.
type Plan struct {
	CreatedAt    string   `json:"created_at"`
	TotalRecords int      `json:"total_records"`
	ShardSize    int      `json:"shard_size"`
	Shards       []string `json:"shards"`
}

// WritePlan sorts records by member UID, writes them to outDir as
// part-NNNN.jsonl files of at most shardSize records and records the
// result in plan.json.
func WritePlan(outDir string, records []mous.Record, shardSize int, now string) (Plan, error) {
	if shardSize < 1 {
		shardSize = 1
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return Plan{}, fmt.Errorf("create plan dir %s: %w", outDir, err)
	}
	sorted := append([]mous.Record(nil), records...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MemberOUSUID < sorted[j].MemberOUSUID })

	plan := Plan{CreatedAt: now, TotalRecords: len(sorted), ShardSize: shardSize, Shards: []string{}}
	for start := 0; start < len(sorted); start += shardSize {
		end := min(start+shardSize, len(sorted))
		path := filepath.Join(outDir, fmt.Sprintf("part-%04d.jsonl", start/shardSize))
		if err := mous.WriteCandidates(path, sorted[start:end]); err != nil {
			return Plan{}, err
		}
		plan.Shards = append(plan.Shards, path)
	}
	if err := mous.WriteJSONAtomic(filepath.Join(outDir, PlanFilename), plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// ShardStore returns the shard identifier (the file stem) and the path of
// the shard's index store (the shard file with a .sqlite extension).
func ShardStore(shardFile string) (id, dbPath string) {
	ext := filepath.Ext(shardFile)
	id = strings.TrimSuffix(filepath.Base(shardFile), ext)
	dbPath = strings.TrimSuffix(shardFile, ext) + ".sqlite"
	return id, dbPath
}

// RecordsFromTree rebuilds unit records from the manifests found under
// root, sorted by member UID. Manifests that cannot be read or carry no
// unit id are skipped.
func RecordsFromTree(root string) ([]mous.Record, error) {
	dirs, err := layout.FindUnitDirs(root)
	if err != nil {
		return nil, err
	}
	var out []mous.Record
	for _, dir := range dirs {
		m, err := mous.LoadManifest(layout.ForDir(dir).Manifest)
		if err != nil || m.MousUID == "" {
			continue
		}
		out = append(out, m.Record())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MemberOUSUID < out[j].MemberOUSUID })
	return out, nil
}
