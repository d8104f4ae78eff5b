package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// Error stages recorded in last_error_stage.
const (
	StageList     = "list"
	StageDownload = "download"
	StageUnpack   = "unpack"
	StageSummary  = "summarize"
)

// Unit is one row of the mous table.
type Unit struct {
	MousUID                   string  `db:"mous_uid" json:"mous_uid"`
	ProjectCode               *string `db:"project_code" json:"project_code"`
	ReleaseDate               *string `db:"release_date" json:"release_date"`
	ObsDate                   *string `db:"obs_date" json:"obs_date"`
	BandJSON                  *string `db:"band_json" json:"band_json"`
	QA2Status                 *string `db:"qa2_status" json:"qa2_status"`
	QA0Status                 *string `db:"qa0_status" json:"qa0_status"`
	QA2ReasonsJSON            *string `db:"qa2_reasons_json" json:"qa2_reasons_json"`
	QA0ReasonsJSON            *string `db:"qa0_reasons_json" json:"qa0_reasons_json"`
	DRInterventionSuspected   int     `db:"dr_intervention_suspected" json:"dr_intervention_suspected"`
	DRFlagCommandsCount       int     `db:"dr_flag_commands_count" json:"dr_flag_commands_count"`
	DRManualFlagCommandsCount int     `db:"dr_manual_flag_commands_count" json:"dr_manual_flag_commands_count"`
	ASAQAPresent              int     `db:"asa_qa_present" json:"asa_qa_present"`
	LocalDir                  *string `db:"local_dir" json:"local_dir"`
	ManifestPath              *string `db:"manifest_path" json:"manifest_path"`
	SummaryPath               *string `db:"summary_path" json:"summary_path"`
	Discovered                int     `db:"discovered" json:"discovered"`
	Downloaded                int     `db:"downloaded" json:"downloaded"`
	Unpacked                  int     `db:"unpacked" json:"unpacked"`
	Summarized                int     `db:"summarized" json:"summarized"`
	Indexed                   int     `db:"indexed" json:"indexed"`
	LastErrorStage            *string `db:"last_error_stage" json:"last_error_stage"`
	LastErrorMessage          *string `db:"last_error_message" json:"last_error_message"`
	ShardID                   *string `db:"shard_id" json:"shard_id"`
	LastSeen                  *string `db:"last_seen" json:"last_seen"`
	LastUpdated               *string `db:"last_updated" json:"last_updated"`
}

// ArtifactRow is one row of the artifact table.
type ArtifactRow struct {
	MousUID   string  `db:"mous_uid" json:"mous_uid"`
	Filename  string  `db:"filename" json:"filename"`
	Kind      *string `db:"kind" json:"kind"`
	Status    *string `db:"status" json:"status"`
	LocalPath *string `db:"local_path" json:"local_path"`
	SourceURL *string `db:"source_url" json:"source_url"`
	SizeBytes *int64  `db:"size_bytes" json:"size_bytes"`
	Checksum  *string `db:"checksum" json:"checksum"`
	UpdatedAt *string `db:"updated_at" json:"updated_at"`
}

// UpsertInput is everything one upsert reconciles. Either document may be nil.
type UpsertInput struct {
	Summary  *mous.Summary
	Manifest *mous.Manifest
	LocalDir string
	ShardID  string
	// ErrorStage and ErrorMessage override the error derived from artifacts.
	ErrorStage   string
	ErrorMessage string
}

const upsertMousSQL = `
INSERT INTO mous (
	mous_uid, project_code, release_date, obs_date, band_json,
	qa2_status, qa0_status, qa2_reasons_json, qa0_reasons_json,
	dr_intervention_suspected, dr_flag_commands_count, dr_manual_flag_commands_count, asa_qa_present,
	local_dir, manifest_path, summary_path,
	discovered, downloaded, unpacked, summarized, indexed,
	last_error_stage, last_error_message, shard_id, last_seen, last_updated
) VALUES (
	:mous_uid, :project_code, :release_date, :obs_date, :band_json,
	:qa2_status, :qa0_status, :qa2_reasons_json, :qa0_reasons_json,
	:dr_intervention_suspected, :dr_flag_commands_count, :dr_manual_flag_commands_count, :asa_qa_present,
	:local_dir, :manifest_path, :summary_path,
	:discovered, :downloaded, :unpacked, :summarized, :indexed,
	:last_error_stage, :last_error_message, :shard_id, :last_seen, :last_updated
)
ON CONFLICT(mous_uid) DO UPDATE SET
	project_code=excluded.project_code,
	release_date=excluded.release_date,
	obs_date=excluded.obs_date,
	band_json=excluded.band_json,
	qa2_status=excluded.qa2_status,
	qa0_status=excluded.qa0_status,
	qa2_reasons_json=excluded.qa2_reasons_json,
	qa0_reasons_json=excluded.qa0_reasons_json,
	dr_intervention_suspected=excluded.dr_intervention_suspected,
	dr_flag_commands_count=excluded.dr_flag_commands_count,
	dr_manual_flag_commands_count=excluded.dr_manual_flag_commands_count,
	asa_qa_present=excluded.asa_qa_present,
	local_dir=excluded.local_dir,
	manifest_path=excluded.manifest_path,
	summary_path=excluded.summary_path,
	discovered=excluded.discovered,
	downloaded=excluded.downloaded,
	unpacked=excluded.unpacked,
	summarized=excluded.summarized,
	indexed=excluded.indexed,
	last_error_stage=excluded.last_error_stage,
	last_error_message=excluded.last_error_message,
	shard_id=excluded.shard_id,
	last_seen=excluded.last_seen,
	last_updated=excluded.last_updated`

const insertArtifactSQL = `
INSERT INTO artifact (mous_uid, filename, kind, status, local_path, source_url, size_bytes, checksum, updated_at)
VALUES (:mous_uid, :filename, :kind, :status, :local_path, :source_url, :size_bytes, :checksum, :updated_at)`

// Upsert writes one unit. The mous row is overwritten column by column; the
// unit's eb and artifact rows are replaced wholesale.
func (s *Store) Upsert(ctx context.Context, in UpsertInput) error {
	unit, ebs, arts, err := s.rows(in)
	if err != nil {
		return err
	}
	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, upsertMousSQL, unit); err != nil {
			return fmt.Errorf("upsert mous %s: %w", unit.MousUID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM eb WHERE mous_uid = ?", unit.MousUID); err != nil {
			return fmt.Errorf("clear eb rows for %s: %w", unit.MousUID, err)
		}
		for _, eb := range ebs {
			if _, err := tx.ExecContext(ctx, "INSERT OR REPLACE INTO eb (mous_uid, eb_uid) VALUES (?, ?)", unit.MousUID, eb); err != nil {
				return fmt.Errorf("insert eb %s: %w", eb, err)
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM artifact WHERE mous_uid = ?", unit.MousUID); err != nil {
			return fmt.Errorf("clear artifact rows for %s: %w", unit.MousUID, err)
		}
		for _, art := range arts {
			if _, err := tx.NamedExecContext(ctx, insertArtifactSQL, art); err != nil {
				return fmt.Errorf("insert artifact %s: %w", art.Filename, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("indexed unit",
		zap.String("mous_uid", unit.MousUID),
		zap.Int("eb_count", len(ebs)),
		zap.Int("artifact_count", len(arts)),
	)
	return nil
}

// rows derives the mous, eb and artifact rows for one upsert.
func (s *Store) rows(in UpsertInput) (Unit, []string, []ArtifactRow, error) {
	sum := in.Summary
	if sum == nil {
		sum = &mous.Summary{}
	}
	unitBlock := sum.Mous
	if unitBlock == nil {
		unitBlock = &mous.SummaryUnit{}
	}
	qa := sum.QA
	if qa == nil {
		qa = &mous.SummaryQA{}
	}
	dr := sum.DR
	if dr == nil {
		dr = &mous.SummaryDR{}
	}
	man := in.Manifest
	if man == nil {
		man = &mous.Manifest{}
	}

	uid := firstNonEmpty(sum.MousUID, unitBlock.MousUID, man.MousUID)
	if uid == "" {
		return Unit{}, nil, nil, ErrMissingKey
	}
	now := s.now()

	u := Unit{
		MousUID:        uid,
		ProjectCode:    nullable(firstNonEmpty(sum.ProjectCode, unitBlock.ProjectCode, man.ProjectCode)),
		ReleaseDate:    nullable(firstNonEmpty(sum.PublicReleaseDate, unitBlock.PublicReleaseDate, man.ReleaseDate)),
		ObsDate:        nullable(firstNonEmpty(sum.ObsDate, unitBlock.ObsDate, man.ObsDate)),
		BandJSON:       jsonList(sum.Band, unitBlock.Band, man.BandList),
		QA2Status:      firstQA(sum.QA2Status, qa.QA2Status, man.QA2Status, man.QA2Passed),
		QA0Status:      firstQA(sum.QA0Status, mous.QAText(man.QA0Status)),
		QA2ReasonsJSON: jsonList(sum.QA2FlagReasons, qa.QA2Reasons, man.QA2Reasons),
		QA0ReasonsJSON: jsonList(sum.QA0FlagReasons, man.QA0Reasons),
		LocalDir:       nullable(in.LocalDir),
		ManifestPath:   nullable(man.Path),
		SummaryPath:    nullable(sum.SummaryPath),
		Discovered:     1,
		Indexed:        1,
		ShardID:        nullable(in.ShardID),
		LastSeen:       &now,
		LastUpdated:    &now,
	}
	if sum.DRInterventionSuspected || dr.DRInterventionSuspected {
		u.DRInterventionSuspected = 1
	}
	u.DRFlagCommandsCount = firstNonZero(sum.DRFlagCommandsCount, dr.DRFlagCommandsCount,
		sumRuns(sum, func(r mous.RunSummary) int { return r.DRFlagCommandsCount }))
	u.DRManualFlagCommandsCount = firstNonZero(sum.DRManualFlagCommandsCount, dr.DRManualFlagCommandsCount,
		sumRuns(sum, func(r mous.RunSummary) int { return r.DRManualFlagCommandsCount }))
	if sum.ASAQAPresent || hasQAEvidence(sum) {
		u.ASAQAPresent = 1
	}
	for _, a := range man.Artifacts {
		if a.Status == mous.StatusPresent {
			u.Downloaded = 1
			break
		}
	}
	if len(man.Unpacked) > 0 {
		u.Unpacked = 1
	}
	if in.Summary != nil {
		u.Summarized = 1
	}

	stage, msg := in.ErrorStage, in.ErrorMessage
	if stage == "" || msg == "" {
		if failed := man.FirstError(); failed != nil {
			stage = StageDownload
			msg = firstNonEmpty(failed.Error, "artifact download failed")
		}
	}
	u.LastErrorStage = nullable(stage)
	u.LastErrorMessage = nullable(msg)

	arts := make([]ArtifactRow, 0, len(man.Artifacts))
	for _, a := range man.Artifacts {
		arts = append(arts, ArtifactRow{
			MousUID:   uid,
			Filename:  a.Filename,
			Kind:      nullable(string(a.Kind)),
			Status:    nullable(a.Status),
			LocalPath: nullable(a.LocalPath),
			SourceURL: nullable(a.URL),
			SizeBytes: a.SizeBytes,
			Checksum:  nullable(a.Checksum),
			UpdatedAt: &now,
		})
	}
	return u, ebUIDs(sum, unitBlock, qa, man), arts, nil
}

// ebUIDs is the sorted union of the first non-empty execution block list and
// the blocks named by the QA evidence.
func ebUIDs(sum *mous.Summary, unitBlock *mous.SummaryUnit, qa *mous.SummaryQA, man *mous.Manifest) []string {
	base := sum.EBUIDList
	if len(base) == 0 {
		base = unitBlock.EBUIDList
	}
	if len(base) == 0 {
		base = man.EBUIDs
	}
	out := make([]string, 0, len(base)+len(qa.EBInASA))
	for _, eb := range base {
		if eb != "" {
			out = append(out, eb)
		}
	}
	for _, ev := range qa.EBInASA {
		if ev.EBUID != "" {
			out = append(out, ev.EBUID)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func sumRuns(sum *mous.Summary, metric func(mous.RunSummary) int) int {
	total := 0
	for _, run := range sum.Runs {
		total += metric(run)
	}
	return total
}

func hasQAEvidence(sum *mous.Summary) bool {
	for _, run := range sum.Runs {
		if len(run.PipelineAquareportFiles) > 0 {
			return true
		}
	}
	return false
}

// jsonList encodes the first non-empty list, or [].
func jsonList(lists ...[]string) *string {
	chosen := []string{}
	for _, l := range lists {
		if len(l) > 0 {
			chosen = l
			break
		}
	}
	data, _ := json.Marshal(chosen)
	s := string(data)
	return &s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// IngestFiles upserts a unit from the summary and manifest files in one unit
// directory. Either file may be missing, but not both.
func (s *Store) IngestFiles(ctx context.Context, summaryPath, manifestPath, shardID string) error {
	in := UpsertInput{LocalDir: filepath.Dir(summaryPath), ShardID: shardID}
	sum, err := mous.LoadSummary(summaryPath)
	switch {
	case err == nil:
		if sum.SummaryPath == "" {
			sum.SummaryPath = summaryPath
		}
		in.Summary = sum
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	man, err := mous.LoadManifest(manifestPath)
	switch {
	case err == nil:
		in.Manifest = man
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	if err := s.Upsert(ctx, in); err != nil {
		if errors.Is(err, ErrMissingKey) {
			return fmt.Errorf("%w in %s and %s", ErrMissingKey, summaryPath, manifestPath)
		}
		return err
	}
	return nil
}

// GetUnit loads one mous row.
func (s *Store) GetUnit(ctx context.Context, mousUID string) (Unit, error) {
	var u Unit
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM mous WHERE mous_uid = ?", mousUID); err != nil {
		return Unit{}, fmt.Errorf("get unit %s: %w", mousUID, err)
	}
	return u, nil
}

// EBs lists the execution blocks recorded for a unit.
func (s *Store) EBs(ctx context.Context, mousUID string) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, "SELECT eb_uid FROM eb WHERE mous_uid = ? ORDER BY eb_uid", mousUID); err != nil {
		return nil, fmt.Errorf("list eb rows for %s: %w", mousUID, err)
	}
	return out, nil
}

// Artifacts lists the artifact rows recorded for a unit.
func (s *Store) Artifacts(ctx context.Context, mousUID string) ([]ArtifactRow, error) {
	var out []ArtifactRow
	if err := s.db.SelectContext(ctx, &out, "SELECT * FROM artifact WHERE mous_uid = ? ORDER BY filename", mousUID); err != nil {
		return nil, fmt.Errorf("list artifact rows for %s: %w", mousUID, err)
	}
	return out, nil
}
