package mous

import (
	"fmt"
	"time"
)

// TimestampLayout is the UTC, second-precision form used in manifests and the index.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// RunContext carries per-invocation state into every stage instead of
// package-level globals.
type RunContext struct {
	RunID       string
	Command     string
	ToolVersion string
	ShardID     string
	StartedAt   time.Time
	Clock       Clock
}

// NewRunContext stamps a new run with an identifier and start time.
func NewRunContext(command, toolVersion, shardID string, clock Clock, ids IDGenerator) (RunContext, error) {
	rc := RunContext{
		Command:     command,
		ToolVersion: toolVersion,
		ShardID:     shardID,
		Clock:       clock,
	}
	if ids != nil {
		id, err := ids.NewID()
		if err != nil {
			return RunContext{}, fmt.Errorf("generate run id: %w", err)
		}
		rc.RunID = id
	}
	rc.StartedAt = rc.Now()
	return rc, nil
}

// Now returns the current UTC time from the run's clock.
func (rc RunContext) Now() time.Time {
	if rc.Clock == nil {
		return time.Now().UTC()
	}
	return rc.Clock.Now().UTC()
}

// Timestamp formats Now with TimestampLayout.
func (rc RunContext) Timestamp() string {
	return FormatTimestamp(rc.Now())
}

// Elapsed reports how long the run has been going.
func (rc RunContext) Elapsed() time.Duration {
	return rc.Now().Sub(rc.StartedAt)
}

// History starts a history entry stamped with the run's identity.
func (rc RunContext) History(event string) HistoryEntry {
	return HistoryEntry{
		Timestamp:   rc.Timestamp(),
		Event:       event,
		RunID:       rc.RunID,
		Command:     rc.Command,
		ToolVersion: rc.ToolVersion,
	}
}

// FormatTimestamp renders t in UTC with second precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}
