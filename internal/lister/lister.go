// Package lister queries the archive's datalink service for the artifacts
// offered for a unit.
package lister

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/metrics"
	"github.com/JakeFAU/alma-bulk/internal/mous"
	"github.com/JakeFAU/alma-bulk/internal/policy/ratelimit"
)

// Config controls the listing client.
type Config struct {
	Endpoint          string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	// MaxRetries is passed to the HTTP client. Zero leaves retries to the caller.
	MaxRetries int
}

// Lister fetches artifact listings over HTTP.
type Lister struct {
	cfg     Config
	client  *retryablehttp.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New builds a Lister.
func New(cfg Config, logger *zap.Logger) (*Lister, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("listing endpoint is required")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("parse listing endpoint: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout

	client := retryablehttp.NewClient()
	client.HTTPClient = httpClient
	client.RetryMax = cfg.MaxRetries
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = newErrorLogger(logger)
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Lister{
		cfg:     cfg,
		client:  client,
		limiter: ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.RequestsPerSecond}),
		logger:  logger,
	}, nil
}

// List returns the artifacts offered for a member unit UID.
func (l *Lister) List(ctx context.Context, unitID string) ([]mous.ArtifactInfo, error) {
	artifacts, err := l.list(ctx, unitID)
	if err != nil {
		metrics.ObserveListing("error")
		return nil, err
	}
	metrics.ObserveListing("ok")
	l.logger.Debug("listing fetched",
		zap.String("mous_uid", unitID),
		zap.Int("artifacts", len(artifacts)),
	)
	return artifacts, nil
}

func (l *Lister) list(ctx context.Context, unitID string) ([]mous.ArtifactInfo, error) {
	endpoint, err := url.Parse(l.cfg.Endpoint)
	if err != nil {
		return nil, &RemoteServiceError{UnitID: unitID, Err: err}
	}
	query := endpoint.Query()
	query.Set("ID", DatalinkID(unitID))
	endpoint.RawQuery = query.Encode()

	if err := l.limiter.Wait(ctx, endpoint.String()); err != nil {
		return nil, &RemoteServiceError{UnitID: unitID, Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, &RemoteServiceError{UnitID: unitID, Err: fmt.Errorf("build request: %w", err)}
	}
	if l.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", l.cfg.UserAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return nil, &RemoteServiceError{UnitID: unitID, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &RemoteServiceError{
			UnitID:     unitID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response %s", resp.Status),
		}
	}

	artifacts, err := parseVOTable(resp.Body)
	if err != nil {
		return nil, &RemoteServiceError{UnitID: unitID, StatusCode: resp.StatusCode, Err: err}
	}
	return artifacts, nil
}
