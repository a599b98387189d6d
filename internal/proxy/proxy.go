// Package proxy - wildcard subdomain proxy for LAUNCHPAD.
//
// Every request whose host is not the apex lands here. The proxy does a
// single routing-store read, then either forwards to the deployment's
// origin or renders a status page. It performs no per-request
// authorization; deployed services are world-invocable by design.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"launchpad/internal/logging"
	"launchpad/internal/metrics"
	"launchpad/internal/models"
	"launchpad/internal/routing"
	"launchpad/internal/subdomains"
)

// hopByHop headers are connection-scoped and never forwarded.
var hopByHop = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Handler proxies wildcard requests.
type Handler struct {
	ledger     *routing.Ledger
	apexDomain string
	upstream   *http.Client
}

// NewHandler creates the proxy handler. upstreamTimeout caps one
// proxied exchange.
func NewHandler(ledger *routing.Ledger, apexDomain string, upstreamTimeout time.Duration) *Handler {
	if upstreamTimeout <= 0 {
		upstreamTimeout = 30 * time.Second
	}
	return &Handler{
		ledger:     ledger,
		apexDomain: apexDomain,
		upstream: &http.Client{
			Timeout: upstreamTimeout,
			// The proxy passes redirects through to the browser.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Label extracts the subdomain label from a request host.
func Label(host string) string {
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	return strings.ToLower(parts[0])
}

// ServeHTTP implements the proxy path.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	label := Label(r.Host)
	if label == "" || subdomains.Reserved(label) {
		metrics.ObserveProxy("apex")
		h.serveApexSite(w)
		return
	}

	rec, err := h.ledger.Resolve(r.Context(), label)
	if errors.Is(err, routing.ErrNotFound) {
		metrics.ObserveProxy("not_found")
		renderPage(w, http.StatusNotFound, notFoundPage(label, h.apexDomain))
		return
	}
	if err != nil {
		logging.S().Errorw("routing lookup failed", "subdomain", label, "error", err)
		metrics.ObserveProxy("lookup_error")
		w.Header().Set("Retry-After", "5")
		renderPage(w, http.StatusServiceUnavailable, errorPage("The platform is briefly unavailable."))
		return
	}

	if rec.Status != models.StatusActive || rec.OriginURL == "" {
		metrics.ObserveProxy("status_page")
		h.serveStatusPage(w, label, rec)
		return
	}

	h.forward(w, r, rec)
}

func (h *Handler) forward(w http.ResponseWriter, r *http.Request, rec *routing.Record) {
	ctx, cancel := context.WithTimeout(r.Context(), h.upstream.Timeout)
	defer cancel()

	target := strings.TrimSuffix(rec.OriginURL, "/") + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		renderPage(w, http.StatusBadGateway, errorPage("The request could not be forwarded."))
		return
	}

	copyHeaders(req.Header, r.Header)
	for _, hh := range hopByHop {
		req.Header.Del(hh)
	}
	// The platform session cookie never reaches user code.
	req.Header.Del("Cookie")

	req.Header.Set("X-Forwarded-Host", r.Host)
	req.Header.Set("X-Forwarded-Proto", scheme(r))
	if ip := clientIP(r); ip != "" {
		req.Header.Set("X-Real-IP", ip)
	}
	req.Header.Set("X-Launchpad-Deployment", rec.DeploymentID)

	resp, err := h.upstream.Do(req)
	if err != nil {
		logging.S().Warnw("upstream request failed",
			"subdomain", rec.Subdomain, "origin", rec.OriginURL, "error", err)
		metrics.ObserveProxy("upstream_error")
		w.Header().Set("Retry-After", "5")
		renderPage(w, http.StatusServiceUnavailable,
			errorPage("The app did not respond. It may be waking up; retry in a few seconds."))
		return
	}
	defer resp.Body.Close()
	metrics.ObserveProxy("forwarded")

	copyHeaders(w.Header(), resp.Header)
	for _, hh := range hopByHop {
		w.Header().Del(hh)
	}
	// Runtime-internal headers are noise to callers.
	w.Header().Del("Server")
	w.Header().Del("X-Cloud-Trace-Context")

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.S().Debugw("upstream body copy interrupted",
			"subdomain", rec.Subdomain, "error", err)
	}
}

func (h *Handler) serveStatusPage(w http.ResponseWriter, label string, rec *routing.Record) {
	switch rec.Status {
	case models.StatusFailed:
		renderPage(w, http.StatusServiceUnavailable, failedPage(label, rec.Error))
	case models.StatusExpired:
		renderPage(w, http.StatusServiceUnavailable, expiredPage(label, h.apexDomain))
	default:
		renderPage(w, http.StatusAccepted, progressPage(label, string(rec.Status)))
	}
}

func (h *Handler) serveApexSite(w http.ResponseWriter) {
	renderPage(w, http.StatusOK, apexPage(h.apexDomain))
}

func renderPage(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

func scheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

// clientIP trusts the ingress-provided forwarded header, falling back to
// the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	addr := r.RemoteAddr
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
