// Package downloader acquires a unit's selected artifacts into its delivered
// directory and records the outcome in the manifest.
package downloader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/alma-bulk/internal/hash/sha256"
	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
)

// Config controls transfers.
type Config struct {
	// Concurrency bounds the transfer pool; values below 1 mean 1.
	Concurrency int
	// Retries is the total number of attempts per artifact; values below 1 mean 1.
	Retries int
	// RateLimit is a pause after each successful transfer.
	RateLimit       time.Duration
	ComputeChecksum bool
	UserAgent       string
	// Timeout bounds the wait for response headers, not the whole body.
	Timeout time.Duration
}

// Option customises a Manager.
type Option func(*Manager)

// WithHTTPClient replaces the transfer client.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) { m.client = client }
}

// WithRetryPolicy replaces the retry policy derived from Config.Retries.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(m *Manager) { m.retry = policy }
}

// Manager runs the bounded transfer pool for one unit at a time.
type Manager struct {
	cfg    Config
	client *http.Client
	retry  RetryPolicy
	hasher *sha256.Hasher
	logger *zap.Logger
}

// New builds a Manager.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Manager {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Retries < 1 {
		cfg.Retries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := cleanhttp.DefaultPooledTransport()
	transport.ResponseHeaderTimeout = cfg.Timeout
	m := &Manager{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		retry:  NewExponentialRetryPolicy(cfg.Retries),
		hasher: sha256.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Result reports the counts recorded in the history entry.
type Result struct {
	Counts mous.DownloadCounts
}

type task struct {
	art   mous.ArtifactInfo
	kind  mous.Kind
	local string
}

type outcome struct {
	size     int64
	checksum string
	err      error
}

// Acquire brings every selected artifact in available into deliveredDir.
// Satisfied artifacts are marked present without a transfer, and a row
// repeating an earlier filename is dropped. The rest are
// fetched through the pool; a failed artifact is recorded with status error
// and never stops its siblings. The manifest is saved once, after every
// transfer has finished, with one appended history entry. Only a failure to
// save is returned.
func (m *Manager) Acquire(
	ctx context.Context,
	rc mous.RunContext,
	manifest *mous.Manifest,
	deliveredDir string,
	available []mous.ArtifactInfo,
	sel Selection,
) (Result, error) {
	logger := m.logger.With(zap.String("mous_uid", manifest.MousUID))
	counts := mous.DownloadCounts{Available: len(available)}
	var tasks []task
	seen := make(map[string]struct{}, len(available))

	for _, art := range available {
		kind := mous.NormalizeKind(string(art.Kind))
		if !sel.Has(kind) {
			continue
		}
		// One transfer per local file; later rows would share its part file.
		if _, dup := seen[art.Filename]; dup {
			counts.Duplicates++
			metrics.ObserveArtifact(string(kind), "duplicate", 0)
			logger.Warn("skipping duplicate artifact filename",
				zap.String("filename", art.Filename),
				zap.String("url", art.URL),
			)
			continue
		}
		seen[art.Filename] = struct{}{}
		counts.Selected++
		if !safeFilename(art.Filename) {
			counts.Failed++
			m.record(manifest, rc, task{art: art, kind: kind}, outcome{
				err: fmt.Errorf("unsafe artifact filename %q", art.Filename),
			})
			continue
		}
		local := filepath.Join(deliveredDir, art.Filename)
		existing := manifest.Artifact(art.Filename)
		if mous.Satisfied(existing, local, art.SizeBytes) {
			counts.Satisfied++
			markSatisfied(manifest, existing, art, kind, local, rc.Timestamp())
			metrics.ObserveArtifact(string(kind), "satisfied", 0)
			continue
		}
		tasks = append(tasks, task{art: art, kind: kind, local: local})
	}

	outcomes := make([]outcome, len(tasks))
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			outcomes[i] = m.fetch(ctx, t)
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range tasks {
		out := outcomes[i]
		m.record(manifest, rc, t, out)
		if out.err != nil {
			counts.Failed++
			metrics.ObserveArtifact(string(t.kind), "failed", 0)
			logger.Warn("artifact download failed",
				zap.String("filename", t.art.Filename),
				zap.String("kind", string(t.kind)),
				zap.Error(out.err),
			)
			continue
		}
		counts.Downloaded++
		metrics.ObserveArtifact(string(t.kind), "downloaded", out.size)
	}

	entry := rc.History(mous.EventDownload)
	entry.SelectedKinds = sel.Sorted()
	entry.Download = &counts
	if len(tasks) == 0 {
		entry.Message = "No missing artifacts for selected kinds"
	}
	manifest.AppendHistory(entry)
	if err := manifest.Save(rc.Timestamp()); err != nil {
		return Result{Counts: counts}, fmt.Errorf("save manifest: %w", err)
	}
	logger.Info("download complete",
		zap.Int("selected", counts.Selected),
		zap.Int("satisfied", counts.Satisfied),
		zap.Int("downloaded", counts.Downloaded),
		zap.Int("failed", counts.Failed),
		zap.Int("duplicates", counts.Duplicates),
	)
	return Result{Counts: counts}, nil
}

func (m *Manager) fetch(ctx context.Context, t task) outcome {
	metrics.IncActiveTransfers()
	defer metrics.DecActiveTransfers()

	size, err := m.transfer(ctx, t.art, t.kind, t.local)
	if err != nil {
		return outcome{err: err}
	}
	var checksum string
	if m.cfg.ComputeChecksum {
		checksum, err = m.hasher.Verify(t.local, t.art.Checksum)
		if err != nil {
			_ = os.Remove(t.local)
			return outcome{err: &TransferError{Filename: t.art.Filename, URL: t.art.URL, Attempts: 1, Err: err}}
		}
	}
	if err := sleep(ctx, m.cfg.RateLimit); err != nil {
		m.logger.Debug("rate limit pause interrupted", zap.Error(err))
	}
	return outcome{size: size, checksum: checksum}
}

// record writes a transfer outcome into the manifest, keeping any
// extraction fields from an earlier entry.
func (m *Manager) record(manifest *mous.Manifest, rc mous.RunContext, t task, out outcome) {
	now := rc.Timestamp()
	entry := mous.Artifact{
		Kind:        t.kind,
		Filename:    t.art.Filename,
		URL:         t.art.URL,
		LocalPath:   t.local,
		Checksum:    t.art.Checksum,
		Status:      mous.StatusPresent,
		UpdatedAt:   now,
		Semantics:   t.art.Semantics,
		Description: t.art.Description,
	}
	if out.err != nil {
		entry.Status = mous.StatusError
		entry.Error = message(out.err)
	} else {
		size := out.size
		entry.SizeBytes = &size
		entry.DownloadedAt = now
		if out.checksum != "" {
			entry.Checksum = out.checksum
		}
	}
	if existing := manifest.Artifact(t.art.Filename); existing != nil {
		entry.UnpackedTo = existing.UnpackedTo
		entry.UnpackedAt = existing.UnpackedAt
		entry.StripPrefix = existing.StripPrefix
		entry.UnpackErrors = existing.UnpackErrors
	}
	manifest.AddArtifact(entry)
}

// markSatisfied records an artifact that needs no transfer. An existing
// entry is only restamped when one of its fields actually changes.
func markSatisfied(manifest *mous.Manifest, existing *mous.Artifact, art mous.ArtifactInfo, kind mous.Kind, local, now string) {
	var size *int64
	if info, err := os.Stat(local); err == nil {
		n := info.Size()
		size = &n
	}
	if existing == nil {
		manifest.AddArtifact(mous.Artifact{
			Kind:         kind,
			Filename:     art.Filename,
			URL:          art.URL,
			LocalPath:    local,
			SizeBytes:    size,
			Status:       mous.StatusPresent,
			DownloadedAt: now,
			UpdatedAt:    now,
			Semantics:    art.Semantics,
			Description:  art.Description,
		})
		return
	}
	changed := existing.Status != mous.StatusPresent || existing.Kind != kind || existing.Error != ""
	if size != nil && (existing.SizeBytes == nil || *existing.SizeBytes != *size) {
		existing.SizeBytes = size
		changed = true
	}
	if !changed {
		return
	}
	existing.Status = mous.StatusPresent
	existing.Kind = kind
	existing.Error = ""
	existing.UpdatedAt = now
}

func safeFilename(name string) bool {
	return name != "" && filepath.IsLocal(name) && filepath.Base(name) == name
}
