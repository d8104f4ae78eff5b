package mous

// History event names.
const (
	EventDownload = "download"
	EventUnpack   = "unpack"
)

// HistoryEntry is one pipeline event appended to a manifest.
type HistoryEntry struct {
	Timestamp     string          `json:"timestamp"`
	Event         string          `json:"event"`
	RunID         string          `json:"run_id,omitempty"`
	Command       string          `json:"command,omitempty"`
	ToolVersion   string          `json:"tool_version,omitempty"`
	Message       string          `json:"message,omitempty"`
	SelectedKinds []string        `json:"selected_kinds,omitempty"`
	Download      *DownloadCounts `json:"download,omitempty"`
	Unpack        *UnpackReport   `json:"unpack,omitempty"`
}

// DownloadCounts summarises one acquisition pass.
type DownloadCounts struct {
	Available  int `json:"available"`
	Selected   int `json:"selected"`
	Satisfied  int `json:"satisfied"`
	Downloaded int `json:"downloaded"`
	Failed     int `json:"failed"`
	// Duplicates counts listing rows dropped for repeating an earlier filename.
	Duplicates int `json:"duplicates,omitempty"`
}

// ArchiveRef identifies a manifest archive considered for extraction.
type ArchiveRef struct {
	Kind      Kind   `json:"kind"`
	Filename  string `json:"filename"`
	LocalPath string `json:"local_path"`
}

// SkippedArchive is an archive left untouched, with the reason.
type SkippedArchive struct {
	ArchiveRef
	Reason string `json:"reason"`
}

// ArchiveFailure records an archive that could not be extracted.
type ArchiveFailure struct {
	Archive string `json:"archive"`
	Error   string `json:"error"`
}

// RecursivePass lists what one scan of the delivered tree extracted.
type RecursivePass struct {
	Pass     int              `json:"pass"`
	Archives []string         `json:"archives"`
	Errors   []ArchiveFailure `json:"errors"`
}

// RecursiveReport summarises the nested-archive passes.
type RecursiveReport struct {
	Enabled       bool            `json:"enabled"`
	Patterns      []string        `json:"patterns"`
	MaxPasses     int             `json:"max_passes"`
	Passes        []RecursivePass `json:"passes"`
	UnpackedCount int             `json:"unpacked_count"`
	ErrorCount    int             `json:"error_count"`
}

// UnpackReport records the policy and outcome of one unpack invocation.
type UnpackReport struct {
	UnpackAuxiliary           bool             `json:"unpack_auxiliary"`
	UnpackReadmeArchives      bool             `json:"unpack_readme_archives"`
	UnpackWeblogArchives      bool             `json:"unpack_weblog_archives"`
	UnpackOtherArchives       bool             `json:"unpack_other_archives"`
	RemoveArchivesAfterUnpack bool             `json:"remove_archives_after_unpack"`
	SelectedArchives          []ArchiveRef     `json:"selected_archives"`
	SkippedArchives           []SkippedArchive `json:"skipped_archives"`
	Unpacked                  []string         `json:"unpacked"`
	Failed                    []ArchiveFailure `json:"failed"`
	Recursive                 RecursiveReport  `json:"recursive_unpack"`
}
