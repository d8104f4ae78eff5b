package mous

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ReadCandidates parses a JSON Lines file of unit records. Blank lines are
// ignored; a record without project code or member UID is an error.
func ReadCandidates(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candidates %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s:%d: decode record: %w", path, line, err)
		}
		if rec.ProjectCode == "" || rec.MemberOUSUID == "" {
			return nil, fmt.Errorf("%s:%d: record needs project_code and member_ous_uid", path, line)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan candidates %s: %w", path, err)
	}
	return out, nil
}

// WriteCandidates writes records as JSON Lines, creating parent directories.
func WriteCandidates(path string, records []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if rec.EBUIDs == nil {
			rec.EBUIDs = []string{}
		}
		if rec.BandList == nil {
			rec.BandList = []string{}
		}
		if rec.QA0Reasons == nil {
			rec.QA0Reasons = []string{}
		}
		if rec.QA2Reasons == nil {
			rec.QA2Reasons = []string{}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.MemberOUSUID, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write candidates %s: %w", path, err)
	}
	return nil
}
