package mous

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File names used inside a unit directory.
const (
	ManifestFilename = "almaBulkManifest.json"
	SummaryFilename  = "almaBulkSummary.json"
)

// UnpackError is one failed extraction attempt recorded on an artifact.
type UnpackError struct {
	Timestamp string `json:"timestamp"`
	Error     string `json:"error"`
}

// Artifact is the manifest entry for one deliverable file.
type Artifact struct {
	Kind         Kind   `json:"kind"`
	Filename     string `json:"filename"`
	URL          string `json:"url"`
	LocalPath    string `json:"local_path"`
	SizeBytes    *int64 `json:"size_bytes"`
	Checksum     string `json:"checksum,omitempty"`
	Status       string `json:"status"`
	DownloadedAt string `json:"downloaded_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	Error        string `json:"error,omitempty"`
	Semantics    string `json:"semantics,omitempty"`
	Description  string `json:"description,omitempty"`

	UnpackedTo                string        `json:"unpacked_to,omitempty"`
	UnpackedAt                string        `json:"unpacked_at,omitempty"`
	ArchiveRemovedAfterUnpack bool          `json:"archive_removed_after_unpack"`
	StripPrefix               string        `json:"strip_prefix,omitempty"`
	UnpackErrors              []UnpackError `json:"unpack_errors,omitempty"`
}

// SatisfiedByUnpack reports whether the artifact's archive was extracted and
// then removed, so its absence on disk is expected.
func (a *Artifact) SatisfiedByUnpack() bool {
	return a != nil && a.ArchiveRemovedAfterUnpack && a.UnpackedTo != ""
}

// Satisfied reports whether an artifact needs no transfer. The file at path
// must exist with the expected size (any size when expected is nil), or the
// entry must record that its archive was unpacked and removed.
func Satisfied(entry *Artifact, path string, expected *int64) bool {
	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		if expected == nil || info.Size() == *expected {
			return true
		}
	}
	return entry.SatisfiedByUnpack()
}

// ArchiveStamp identifies the on-disk version of an archive by size and
// modification time.
func ArchiveStamp(size int64, mtime time.Time) string {
	return fmt.Sprintf("%d:%d", size, mtime.Unix())
}

// UnpackCurrent reports whether the archive named name was already extracted
// at this stamp.
func (m *Manifest) UnpackCurrent(name, stamp string) bool {
	return stamp != "" && m.Unpacked[name] == stamp
}

// Manifest is the per-unit record of artifacts and pipeline history.
type Manifest struct {
	MousUID        string   `json:"mous_uid"`
	ProjectCode    string   `json:"project_code"`
	GroupOUSUID    string   `json:"group_ous_uid,omitempty"`
	ScienceGoalUID string   `json:"science_goal_uid,omitempty"`
	ReleaseDate    string   `json:"release_date,omitempty"`
	ObsDate        string   `json:"obs_date,omitempty"`
	BandList       []string `json:"band_list"`
	EBUIDs         []string `json:"eb_uids"`
	QA2Passed      QAValue  `json:"qa2_passed,omitzero"`
	QA2Status      QAValue  `json:"qa2_status,omitzero"`
	QA0Status      string   `json:"qa0_status,omitempty"`
	QA0Reasons     []string `json:"qa0_reasons"`
	QA2Reasons     []string `json:"qa2_reasons"`
	CreatedAt      string   `json:"created_at,omitempty"`
	UpdatedAt      string   `json:"updated_at,omitempty"`

	Artifacts []Artifact        `json:"artifacts"`
	History   []HistoryEntry    `json:"history"`
	Unpacked  map[string]string `json:"unpacked,omitempty"`

	// Path is where the manifest was loaded from or will be saved to.
	Path string `json:"-"`
}

// NewManifest seeds a manifest from a discovered record.
func NewManifest(path string, rec Record, now string) *Manifest {
	m := &Manifest{
		MousUID:        rec.MemberOUSUID,
		ProjectCode:    rec.ProjectCode,
		GroupOUSUID:    rec.GroupOUSUID,
		ScienceGoalUID: rec.ScienceGoalUID,
		ReleaseDate:    rec.ReleaseDate,
		ObsDate:        rec.ObsDate,
		BandList:       cloneStrings(rec.BandList),
		EBUIDs:         cloneStrings(rec.EBUIDs),
		QA2Passed:      rec.QA2Passed,
		QA0Status:      rec.QA0Status,
		QA0Reasons:     cloneStrings(rec.QA0Reasons),
		QA2Reasons:     cloneStrings(rec.QA2Reasons),
		CreatedAt:      now,
		UpdatedAt:      now,
		Artifacts:      []Artifact{},
		History:        []HistoryEntry{},
		Path:           path,
	}
	m.normalize()
	return m
}

// LoadManifest reads a manifest from disk. A missing file yields an error
// matching os.ErrNotExist.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	m.Path = path
	m.normalize()
	return &m, nil
}

// LoadOrInitManifest loads the manifest at path and fills its empty fields
// from rec, or seeds a new manifest when none exists yet.
func LoadOrInitManifest(path string, rec Record, now string) (*Manifest, error) {
	m, err := LoadManifest(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewManifest(path, rec, now), nil
	}
	if err != nil {
		return nil, err
	}
	m.fillFrom(rec)
	return m, nil
}

func (m *Manifest) fillFrom(rec Record) {
	m.MousUID = firstNonEmpty(m.MousUID, rec.MemberOUSUID)
	m.ProjectCode = firstNonEmpty(m.ProjectCode, rec.ProjectCode)
	m.GroupOUSUID = firstNonEmpty(m.GroupOUSUID, rec.GroupOUSUID)
	m.ScienceGoalUID = firstNonEmpty(m.ScienceGoalUID, rec.ScienceGoalUID)
	m.ReleaseDate = firstNonEmpty(m.ReleaseDate, rec.ReleaseDate)
	m.ObsDate = firstNonEmpty(m.ObsDate, rec.ObsDate)
	m.QA0Status = firstNonEmpty(m.QA0Status, rec.QA0Status)
	if len(m.BandList) == 0 {
		m.BandList = cloneStrings(rec.BandList)
	}
	if len(m.EBUIDs) == 0 {
		m.EBUIDs = cloneStrings(rec.EBUIDs)
	}
	if len(m.QA0Reasons) == 0 {
		m.QA0Reasons = cloneStrings(rec.QA0Reasons)
	}
	if len(m.QA2Reasons) == 0 {
		m.QA2Reasons = cloneStrings(rec.QA2Reasons)
	}
	if m.QA2Passed.IsZero() {
		m.QA2Passed = rec.QA2Passed
	}
	m.normalize()
}

// normalize replaces nil collections so the JSON form always carries arrays.
func (m *Manifest) normalize() {
	if m.BandList == nil {
		m.BandList = []string{}
	}
	if m.EBUIDs == nil {
		m.EBUIDs = []string{}
	}
	if m.QA0Reasons == nil {
		m.QA0Reasons = []string{}
	}
	if m.QA2Reasons == nil {
		m.QA2Reasons = []string{}
	}
	if m.Artifacts == nil {
		m.Artifacts = []Artifact{}
	}
	if m.History == nil {
		m.History = []HistoryEntry{}
	}
}

// Record returns the unit record described by the manifest.
func (m *Manifest) Record() Record {
	return Record{
		ProjectCode:    m.ProjectCode,
		MemberOUSUID:   m.MousUID,
		GroupOUSUID:    m.GroupOUSUID,
		ScienceGoalUID: m.ScienceGoalUID,
		EBUIDs:         cloneStrings(m.EBUIDs),
		BandList:       cloneStrings(m.BandList),
		ReleaseDate:    m.ReleaseDate,
		ObsDate:        m.ObsDate,
		QA2Passed:      m.QA2Passed,
		QA0Status:      m.QA0Status,
		QA0Reasons:     cloneStrings(m.QA0Reasons),
		QA2Reasons:     cloneStrings(m.QA2Reasons),
	}
}

// Artifact returns the entry for filename, or nil. The pointer aliases the
// manifest's slice and stays valid until the next AddArtifact.
func (m *Manifest) Artifact(filename string) *Artifact {
	for i := range m.Artifacts {
		if m.Artifacts[i].Filename == filename {
			return &m.Artifacts[i]
		}
	}
	return nil
}

// AddArtifact appends an entry, or replaces the one with the same filename.
func (m *Manifest) AddArtifact(a Artifact) {
	if existing := m.Artifact(a.Filename); existing != nil {
		*existing = a
		return
	}
	m.Artifacts = append(m.Artifacts, a)
}

// AppendHistory records one pipeline event.
func (m *Manifest) AppendHistory(entry HistoryEntry) {
	m.History = append(m.History, entry)
}

// FirstError returns the first artifact whose status is error, or nil.
func (m *Manifest) FirstError() *Artifact {
	for i := range m.Artifacts {
		if m.Artifacts[i].Status == StatusError {
			return &m.Artifacts[i]
		}
	}
	return nil
}

// Save stamps updated_at and writes the manifest atomically to m.Path.
func (m *Manifest) Save(now string) error {
	if m.Path == "" {
		return errors.New("manifest path not set")
	}
	m.normalize()
	m.UpdatedAt = now
	return WriteJSONAtomic(m.Path, m)
}

// WriteJSONAtomic writes v as indented JSON with a trailing newline, going
// through a temporary file in the same directory and a rename.
func WriteJSONAtomic(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	payload = append(payload, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
