// Package api hosts the read-only HTTP status server. Routes:
//   - GET /healthz and /readyz for probes; readyz pings the index store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the JSON dashboard, /v1/status.txt for the text form.
//   - GET /v1/units/{segment} for one unit, addressed by its path segment
//     (uid___A001_X1_X2) or its escaped UID.
package api
