package index

const schema = `
CREATE TABLE IF NOT EXISTS mous (
	mous_uid TEXT PRIMARY KEY,
	project_code TEXT,
	release_date TEXT,
	obs_date TEXT,
	band_json TEXT,
	qa2_status TEXT,
	qa0_status TEXT,
	qa2_reasons_json TEXT,
	qa0_reasons_json TEXT,
	dr_intervention_suspected INTEGER,
	dr_flag_commands_count INTEGER,
	dr_manual_flag_commands_count INTEGER,
	asa_qa_present INTEGER DEFAULT 0,
	local_dir TEXT,
	manifest_path TEXT,
	summary_path TEXT,
	discovered INTEGER DEFAULT 0,
	downloaded INTEGER DEFAULT 0,
	unpacked INTEGER DEFAULT 0,
	summarized INTEGER DEFAULT 0,
	indexed INTEGER DEFAULT 1,
	last_error_stage TEXT,
	last_error_message TEXT,
	shard_id TEXT,
	last_seen TEXT,
	last_updated TEXT
);

CREATE TABLE IF NOT EXISTS eb (
	mous_uid TEXT,
	eb_uid TEXT,
	PRIMARY KEY(mous_uid, eb_uid),
	FOREIGN KEY(mous_uid) REFERENCES mous(mous_uid) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS artifact (
	mous_uid TEXT,
	filename TEXT,
	kind TEXT,
	status TEXT,
	local_path TEXT,
	source_url TEXT,
	size_bytes INTEGER,
	checksum TEXT,
	updated_at TEXT,
	PRIMARY KEY(mous_uid, filename),
	FOREIGN KEY(mous_uid) REFERENCES mous(mous_uid) ON DELETE CASCADE
);
`

// Column sets accepted from shard stores during merge, in insert order.
var (
	mousColumns = []string{
		"mous_uid", "project_code", "release_date", "obs_date", "band_json",
		"qa2_status", "qa0_status", "qa2_reasons_json", "qa0_reasons_json",
		"dr_intervention_suspected", "dr_flag_commands_count", "dr_manual_flag_commands_count", "asa_qa_present",
		"local_dir", "manifest_path", "summary_path",
		"discovered", "downloaded", "unpacked", "summarized", "indexed",
		"last_error_stage", "last_error_message", "shard_id", "last_seen", "last_updated",
	}
	ebColumns       = []string{"mous_uid", "eb_uid"}
	artifactColumns = []string{
		"mous_uid", "filename", "kind", "status", "local_path",
		"source_url", "size_bytes", "checksum", "updated_at",
	}
)
