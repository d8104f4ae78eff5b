package mous

import (
	"encoding/json"
	"fmt"
	"os"
)

// Summary is the per-unit document produced by the summarizer. Only the fields
// the index consumes are modelled; everything else in the file is ignored.
type Summary struct {
	MousUID           string   `json:"mous_uid,omitempty"`
	ProjectCode       string   `json:"project_code,omitempty"`
	PublicReleaseDate string   `json:"public_release_date,omitempty"`
	ObsDate           string   `json:"obs_date,omitempty"`
	Band              []string `json:"band,omitempty"`
	QA2Status         QAValue  `json:"qa2_status,omitzero"`
	QA0Status         QAValue  `json:"qa0_status,omitzero"`
	QA2FlagReasons    []string `json:"qa2_flag_reasons,omitempty"`
	QA0FlagReasons    []string `json:"qa0_flag_reasons,omitempty"`
	EBUIDList         []string `json:"eb_uid_list,omitempty"`
	SummaryPath       string   `json:"summary_path,omitempty"`

	DRInterventionSuspected   bool `json:"dr_intervention_suspected,omitempty"`
	DRFlagCommandsCount       int  `json:"dr_flag_commands_count,omitempty"`
	DRManualFlagCommandsCount int  `json:"dr_manual_flag_commands_count,omitempty"`
	ASAQAPresent              bool `json:"asa_qa_present,omitempty"`

	Mous *SummaryUnit          `json:"mous,omitempty"`
	QA   *SummaryQA            `json:"qa,omitempty"`
	DR   *SummaryDR            `json:"dr,omitempty"`
	Runs map[string]RunSummary `json:"runs,omitempty"`
}

// SummaryUnit is the nested unit block some summary generations write.
type SummaryUnit struct {
	MousUID           string   `json:"mous_uid,omitempty"`
	ProjectCode       string   `json:"project_code,omitempty"`
	PublicReleaseDate string   `json:"public_release_date,omitempty"`
	ObsDate           string   `json:"obs_date,omitempty"`
	Band              []string `json:"band,omitempty"`
	EBUIDList         []string `json:"eb_uid_list,omitempty"`
}

// SummaryQA carries QA judgments derived from the delivered reports.
type SummaryQA struct {
	QA2Status  QAValue      `json:"qa2_status,omitzero"`
	QA2Reasons []string     `json:"qa2_reasons,omitempty"`
	EBInASA    []EBEvidence `json:"eb_in_asa,omitempty"`
}

// EBEvidence is one execution block referenced by the QA block.
type EBEvidence struct {
	EBUID     string `json:"eb_uid"`
	QA0Status string `json:"qa0_status,omitempty"`
}

// SummaryDR carries data-reduction intervention evidence.
type SummaryDR struct {
	DRInterventionSuspected   bool `json:"dr_intervention_suspected,omitempty"`
	DRFlagCommandsCount       int  `json:"dr_flag_commands_count,omitempty"`
	DRManualFlagCommandsCount int  `json:"dr_manual_flag_commands_count,omitempty"`
}

// RunSummary is the evidence collected for one pipeline run directory.
type RunSummary struct {
	DRFlagCommandsCount       int      `json:"dr_flag_commands_count,omitempty"`
	DRManualFlagCommandsCount int      `json:"dr_manual_flag_commands_count,omitempty"`
	PipelineAquareportFiles   []string `json:"pipeline_aquareport_files,omitempty"`
}

// LoadSummary reads a summary document. A missing file yields an error
// matching os.ErrNotExist.
func LoadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read summary %s: %w", path, err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode summary %s: %w", path, err)
	}
	return &s, nil
}
