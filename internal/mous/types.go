// Package mous defines the records shared by every stage of the bulk pipeline:
// unit records, artifact descriptors, the per-unit manifest and the summary
// document consumed by the index.
package mous

import "strings"

// Kind classifies a deliverable artifact.
type Kind string

// Artifact kinds understood by the download and unpack stages.
const (
	KindCalibration         Kind = "calibration"
	KindScripts             Kind = "scripts"
	KindWeblog              Kind = "weblog"
	KindQAReports           Kind = "qa_reports"
	KindAuxiliary           Kind = "auxiliary"
	KindReadme              Kind = "readme"
	KindRaw                 Kind = "raw"
	KindCalibrationProducts Kind = "calibration_products"
	KindContinuumImages     Kind = "continuum_images"
	KindCubes               Kind = "cubes"
	KindADMIT               Kind = "admit"
	KindOther               Kind = "other"
)

// NormalizeKind lower-cases and trims a kind token.
func NormalizeKind(kind string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(kind)))
}

// Artifact status values stored in the manifest and the index.
const (
	StatusPresent = "present"
	StatusError   = "error"
)

// Record is one discovered unit (member observation unit set).
type Record struct {
	ProjectCode    string   `json:"project_code"`
	MemberOUSUID   string   `json:"member_ous_uid"`
	GroupOUSUID    string   `json:"group_ous_uid,omitempty"`
	ScienceGoalUID string   `json:"science_goal_uid,omitempty"`
	EBUIDs         []string `json:"eb_uids"`
	BandList       []string `json:"band_list"`
	ReleaseDate    string   `json:"release_date,omitempty"`
	ObsDate        string   `json:"obs_date,omitempty"`
	QA2Passed      QAValue  `json:"qa2_passed,omitzero"`
	QA0Status      string   `json:"qa0_status,omitempty"`
	QA0Reasons     []string `json:"qa0_reasons"`
	QA2Reasons     []string `json:"qa2_reasons"`
	SourceRows     int      `json:"source_rows"`
}

// ArtifactInfo describes one artifact offered by the remote listing service.
type ArtifactInfo struct {
	Kind        Kind
	URL         string
	Filename    string
	Semantics   string
	ContentType string
	// SizeBytes is nil when the listing did not advertise a size.
	SizeBytes   *int64
	Checksum    string
	Description string
}
