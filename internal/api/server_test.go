package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/alma-bulk/internal/index"
)

type fakeStore struct {
	pingErr   error
	reportErr error
	topN      int
	units     map[string]index.Unit
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

func (s *fakeStore) Report(_ context.Context, topN int) (index.Report, error) {
	s.topN = topN
	if s.reportErr != nil {
		return index.Report{}, s.reportErr
	}
	return index.Report{
		Counts:    index.Counts{Discovered: 3, Downloaded: 2, Indexed: 3},
		TopErrors: []index.Bucket{{Label: "HTTP 503", Count: 1}},
	}, nil
}

func (s *fakeStore) GetUnit(_ context.Context, uid string) (index.Unit, error) {
	u, ok := s.units[uid]
	if !ok {
		return index.Unit{}, fmt.Errorf("get unit %s: %w", uid, sql.ErrNoRows)
	}
	return u, nil
}

func (s *fakeStore) EBs(context.Context, string) ([]string, error) {
	return []string{"uid://A002/Xb/X1"}, nil
}

func (s *fakeStore) Artifacts(_ context.Context, uid string) ([]index.ArtifactRow, error) {
	return []index.ArtifactRow{{MousUID: uid, Filename: "aux.tgz"}}, nil
}

func newTestServer() (*Server, *fakeStore) {
	store := &fakeStore{units: map[string]index.Unit{
		"uid://A001/X1/X2": {MousUID: "uid://A001/X1/X2", Downloaded: 1},
	}}
	return NewServer(store, zap.NewNop()), store
}

func get(s *Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	server, store := newTestServer()
	rec := get(server, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	require.Equal(t, http.StatusOK, get(server, "/readyz").Code)

	store.pingErr = errors.New("database is locked")
	rec = get(server, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "index store unavailable")
}

func TestStatusJSON(t *testing.T) {
	t.Parallel()

	server, store := newTestServer()
	rec := get(server, "/v1/status?top=3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, store.topN)

	var rep index.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rep))
	assert.Equal(t, 3, rep.Counts.Discovered)
	assert.Equal(t, []index.Bucket{{Label: "HTTP 503", Count: 1}}, rep.TopErrors)

	get(server, "/v1/status")
	assert.Equal(t, DefaultTopErrors, store.topN)
}

func TestStatusRejectsBadTop(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	for _, target := range []string{"/v1/status?top=x", "/v1/status?top=-1"} {
		assert.Equal(t, http.StatusBadRequest, get(server, target).Code, target)
	}
}

func TestStatusReportFailure(t *testing.T) {
	t.Parallel()

	server, store := newTestServer()
	store.reportErr = errors.New("no such table: mous")
	assert.Equal(t, http.StatusInternalServerError, get(server, "/v1/status").Code)
}

func TestStatusText(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	rec := get(server, "/v1/status.txt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "ALMA Bulk Status\n")
	assert.Contains(t, rec.Body.String(), "- (1) HTTP 503\n")
}

func TestUnitLookup(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	for _, target := range []string{
		"/v1/units/uid___A001_X1_X2",
		"/v1/units/uid:%2F%2FA001%2FX1%2FX2",
	} {
		rec := get(server, target)
		require.Equal(t, http.StatusOK, rec.Code, target)

		var detail UnitDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
		assert.Equal(t, "uid://A001/X1/X2", detail.Unit.MousUID)
		assert.Equal(t, []string{"uid://A002/Xb/X1"}, detail.EBs)
		require.Len(t, detail.Artifacts, 1)
		assert.Equal(t, "aux.tgz", detail.Artifacts[0].Filename)
	}
}

func TestUnitLookupErrors(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	assert.Equal(t, http.StatusNotFound, get(server, "/v1/units/uid___A001_X9_X9").Code)
	assert.Equal(t, http.StatusBadRequest, get(server, "/v1/units/bogus").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	rec := get(server, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
