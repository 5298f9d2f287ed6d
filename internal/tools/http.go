package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/hostbridge/hostbridge/internal/registry"
	"github.com/hostbridge/hostbridge/internal/toolerr"
)

// Private and reserved networks (RFC 1918, loopback, link-local, etc.).
var privateNetworks = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("100.64.0.0/10"), // shared address space
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // link-local / metadata
	netip.MustParsePrefix("192.0.0.0/24"),   // IANA reserved
	netip.MustParsePrefix("192.0.2.0/24"),   // TEST-NET-1
	netip.MustParsePrefix("198.18.0.0/15"),  // benchmark testing
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("255.255.255.255/32"),
}

// Cloud metadata endpoints, blocked by hostname before DNS and by literal
// address at dial time.
var metadataHosts = map[string]bool{
	"169.254.169.254":          true, // AWS / GCP / Azure IMDS
	"metadata.google.internal": true,
	"169.254.170.2":            true, // AWS ECS task metadata
}

var allowedHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

type httpTools struct {
	cfg       HTTPConfig
	transport *http.Transport
	logger    *slog.Logger
}

func registerHTTP(reg *registry.Registry, deps Deps) error {
	t := &httpTools{cfg: deps.HTTP, logger: deps.Logger}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   t.checkDial,
	}
	t.transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return reg.Register(&registry.Descriptor{
		Category:    "http",
		Name:        "request",
		Description: "Make an outbound HTTP request. Private and metadata addresses are blocked, domain allow and block lists apply, and oversized responses are truncated.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"url": {"type": "string", "description": "Target URL, http or https"},
				"method": {"type": "string", "default": "GET"},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}},
				"body": {"type": "string", "description": "Raw request body"},
				"json_body": {"description": "JSON request body, mutually exclusive with body"},
				"timeout": {"type": "integer", "minimum": 1},
				"follow_redirects": {"type": "boolean", "default": true}
			},
			"required": ["url"]
		}`),
		Handler: t.request,
	})
}

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	for _, network := range privateNetworks {
		if network.Contains(addr) {
			return true
		}
	}
	return false
}

// checkURL validates scheme, metadata hostnames, literal private addresses
// and the domain lists. It runs on the initial URL and again on every
// redirect hop.
func (t *httpTools) checkURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return toolerr.Securityf("Unsupported scheme '%s'. Only http and https are allowed.", scheme)
	}
	host := strings.ToLower(u.Hostname())

	if !t.cfg.AllowMetadataHosts && metadataHosts[host] {
		return toolerr.Securityf(
			"Requests to '%s' are blocked. Cloud metadata endpoints are not allowed.", host)
	}
	if !t.cfg.AllowPrivateHosts {
		if addr, err := netip.ParseAddr(host); err == nil && isPrivateAddr(addr) {
			return toolerr.Securityf(
				"Requests to private/reserved IP address '%s' are blocked (SSRF protection).", host)
		}
	}

	if len(t.cfg.AllowDomains) > 0 {
		allowed := false
		for _, pattern := range t.cfg.AllowDomains {
			if domainMatches(host, pattern) {
				allowed = true
				break
			}
		}
		if !allowed {
			return toolerr.Blockedf("Domain '%s' is not in the allowlist. Allowed domains: %s",
				host, strings.Join(t.cfg.AllowDomains, ", "))
		}
	}
	for _, pattern := range t.cfg.BlockDomains {
		if domainMatches(host, pattern) {
			return toolerr.Blockedf("Domain '%s' is blocked by policy.", host)
		}
	}
	return nil
}

// checkDial guards the resolved address of every connection, catching
// hostnames that resolve to private ranges and redirects to raw IPs.
func (t *httpTools) checkDial(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return toolerr.Securityf("Invalid dial address '%s' (SSRF protection).", address)
	}
	addr := ap.Addr().Unmap().WithZone("")
	host := addr.String()
	if !t.cfg.AllowMetadataHosts && metadataHosts[host] {
		return toolerr.Securityf(
			"Requests to '%s' are blocked. Cloud metadata endpoints are not allowed.", host)
	}
	if !t.cfg.AllowPrivateHosts && isPrivateAddr(addr) {
		return toolerr.Securityf(
			"Requests to private/reserved IP address '%s' are blocked (SSRF protection).", host)
	}
	return nil
}

// domainMatches reports whether host matches pattern. Patterns are exact
// hostnames or wildcard subdomains like *.example.com.
func domainMatches(host, pattern string) bool {
	pattern = strings.TrimLeft(strings.ToLower(pattern), "*.")
	host = strings.ToLower(host)
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

type httpRequestRequest struct {
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers"`
	Body            *string           `json:"body"`
	JSONBody        any               `json:"json_body"`
	Timeout         int               `json:"timeout"`
	FollowRedirects *bool             `json:"follow_redirects"`
}

type httpRequestResponse struct {
	StatusCode  int               `json:"status_code"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	URL         string            `json:"url"`
	DurationMs  int64             `json:"duration_ms"`
	ContentType string            `json:"content_type,omitempty"`
}

func (t *httpTools) request(ctx context.Context, params map[string]any) (map[string]any, error) {
	var req httpRequestRequest
	if err := bind(params, &req); err != nil {
		return nil, err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedHTTPMethods[method] {
		names := make([]string, 0, len(allowedHTTPMethods))
		for m := range allowedHTTPMethods {
			names = append(names, m)
		}
		sort.Strings(names)
		return nil, toolerr.InvalidParamf("HTTP method '%s' is not allowed. Allowed methods: %s",
			method, strings.Join(names, ", "))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.cfg.defaultTimeout()
	}
	if timeout > t.cfg.maxTimeout() {
		timeout = t.cfg.maxTimeout()
	}

	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, toolerr.InvalidParamf("Invalid URL '%s': %v", req.URL, err)
	}
	if err := t.checkURL(u); err != nil {
		return nil, err
	}

	if req.Body != nil && req.JSONBody != nil {
		return nil, toolerr.InvalidParamf("Provide either 'body' or 'json_body', not both.")
	}

	var bodyReader io.Reader
	contentType := ""
	switch {
	case req.JSONBody != nil:
		encoded, err := json.Marshal(req.JSONBody)
		if err != nil {
			return nil, toolerr.InvalidParamf("Invalid json_body: %v", err)
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	case req.Body != nil:
		bodyReader = strings.NewReader(*req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return nil, toolerr.InvalidParamf("Invalid URL '%s': %v", req.URL, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if contentType != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	follow := req.FollowRedirects == nil || *req.FollowRedirects
	client := &http.Client{
		Transport: t.transport,
		Timeout:   time.Duration(timeout) * time.Second,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if !follow {
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return errors.New("stopped after 10 redirects")
			}
			return t.checkURL(r.URL)
		},
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, t.classifyRequestError(err, timeout)
	}
	defer resp.Body.Close()

	maxBytes := int64(t.cfg.maxResponseKB()) * 1024
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, t.classifyRequestError(err, timeout)
	}
	body := string(data)
	if int64(len(data)) > maxBytes {
		body = string(data[:maxBytes]) +
			fmt.Sprintf("\n\n[TRUNCATED — response exceeded %d KB limit]", t.cfg.maxResponseKB())
	}

	durationMs := time.Since(start).Milliseconds()
	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[k] = strings.Join(v, ", ")
	}

	finalURL := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	// The URL may carry expanded secrets, so only the host is logged.
	t.logger.Info("http request completed",
		"method", method,
		"host", u.Hostname(),
		"status_code", resp.StatusCode,
		"duration_ms", durationMs)

	return out(httpRequestResponse{
		StatusCode:  resp.StatusCode,
		Headers:     headers,
		Body:        body,
		URL:         finalURL,
		DurationMs:  durationMs,
		ContentType: resp.Header.Get("Content-Type"),
	})
}

// classifyRequestError surfaces guard errors raised at dial or redirect time
// and sorts the rest into timeout or connection failure.
func (t *httpTools) classifyRequestError(err error, timeout int) error {
	var te *toolerr.Error
	if errors.As(err, &te) {
		return te
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return toolerr.Timeoutf("HTTP request timed out after %ds: %v", timeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return toolerr.Timeoutf("HTTP request timed out after %ds: %v", timeout, err)
	}
	return toolerr.Internalf("HTTP request failed: %v", err)
}
