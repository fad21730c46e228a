// Package webhook forwards emitted flow records to an upstream HTTP
// collector as JSON, with optional filtering on the flow's five-tuple.
package webhook

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pavelkim/flowcached/internal/flowcache"
	"github.com/pavelkim/flowcached/internal/logger"
)

// Filter restricts which flow records are forwarded.
type Filter struct {
	SrcAddr  string
	DstAddr  string
	DstPort  uint16
	Protocol string // tcp, udp, icmp
}

// Config holds the webhook exporter configuration.
type Config struct {
	Enabled          bool
	Filter           Filter
	StrictMode       bool // if true, a marshal/send error fails the EmitFlow call (unless IgnoreHTTPErrors is set)
	UpstreamURL      string
	IgnoreSSL        bool
	IgnoreHTTPErrors bool // if true, any submit failure (encode, transport or non-2xx) is logged and not returned
	Logger           *logger.Logger
}

// Exporter implements flowcache.Sink by POSTing each emitted record's
// JSON rendering to an upstream collector.
type Exporter struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger
	cache      *flowcache.Cache
}

// NewExporter creates a new webhook exporter. cache is used to render
// the flow record JSON (see flowcache.Cache.BuildJSON).
func NewExporter(cache *flowcache.Cache, config Config) (*Exporter, error) {
	if !config.Enabled {
		return nil, nil
	}

	if config.UpstreamURL == "" {
		return nil, fmt.Errorf("upstream URL is required")
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.IgnoreSSL,
		},
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
		DisableCompression: false,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}

	e := &Exporter{
		config:     config,
		httpClient: client,
		logger:     config.Logger,
		cache:      cache,
	}

	e.logger.Info("webhook exporter initialized",
		"upstream_url", config.UpstreamURL,
		"strict_mode", config.StrictMode,
		"ignore_ssl", config.IgnoreSSL,
		"ignore_http_errors", config.IgnoreHTTPErrors)
	e.logger.Info("webhook filter settings",
		"src_addr", config.Filter.SrcAddr,
		"dst_addr", config.Filter.DstAddr,
		"dst_port", config.Filter.DstPort,
		"protocol", config.Filter.Protocol)

	return e, nil
}

// matchesFilter reports whether fj's five-tuple matches the configured
// filter criteria.
func (e *Exporter) matchesFilter(fj *flowcache.FlowJSON) bool {
	if e.config.Filter.SrcAddr != "" && fj.SA != e.config.Filter.SrcAddr {
		return false
	}
	if e.config.Filter.DstAddr != "" && fj.DA != e.config.Filter.DstAddr {
		return false
	}
	if e.config.Filter.DstPort != 0 && fj.DP != e.config.Filter.DstPort {
		return false
	}
	if e.config.Filter.Protocol != "" {
		if !strings.EqualFold(protocolName(fj.PR), e.config.Filter.Protocol) {
			return false
		}
	}
	return true
}

func protocolName(pr uint8) string {
	switch pr {
	case 6:
		return "tcp"
	case 17:
		return "udp"
	case 1:
		return "icmp"
	default:
		return fmt.Sprintf("%d", pr)
	}
}

// EmitFlow implements flowcache.Sink: it renders r as JSON and forwards
// it to the configured upstream, subject to the filter.
func (e *Exporter) EmitFlow(r *flowcache.Record) error {
	fj := e.cache.BuildJSON(r)

	if !e.matchesFilter(fj) {
		e.logger.Debug("webhook record does not match filter criteria",
			"sa", fj.SA, "da", fj.DA, "dp", fj.DP, "pr", fj.PR,
			"outcome", "skipped")
		return nil
	}

	if err := e.submitToUpstream(fj); err != nil {
		if e.config.IgnoreHTTPErrors {
			e.logger.Warn("webhook record processed but upstream submit failed (ignored)",
				"sa", fj.SA, "da", fj.DA, "dp", fj.DP,
				"upstream_url", e.config.UpstreamURL,
				"error", err,
				"outcome", "upstream_failed_ignored")
			return nil
		}
		e.logger.Error("webhook record processing failed: upstream submit error",
			"sa", fj.SA, "da", fj.DA, "dp", fj.DP,
			"upstream_url", e.config.UpstreamURL,
			"error", err,
			"outcome", "failed_upstream")
		if e.config.StrictMode {
			return fmt.Errorf("failed to submit to upstream: %w", err)
		}
		return nil
	}

	e.logger.Info("webhook record forwarded successfully",
		"sa", fj.SA, "da", fj.DA, "dp", fj.DP,
		"upstream_url", e.config.UpstreamURL,
		"outcome", "success")

	return nil
}

// submitToUpstream POSTs fj's JSON encoding to the configured upstream.
func (e *Exporter) submitToUpstream(fj *flowcache.FlowJSON) error {
	var buf bytes.Buffer
	if err := flowcache.WriteFlowJSON(&buf, fj); err != nil {
		return fmt.Errorf("failed to encode flow record: %w", err)
	}

	req, err := http.NewRequest("POST", e.config.UpstreamURL, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "flowcached-webhook-exporter/1.0")
	req.Header.Set("X-Source-Addr", fj.SA)
	req.Header.Set("X-Destination-Addr", fj.DA)
	req.Header.Set("X-Destination-Port", fmt.Sprintf("%d", fj.DP))
	req.Header.Set("X-Protocol", protocolName(fj.PR))

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned non-OK status: %d, body: %s", resp.StatusCode, string(body))
	}

	e.logger.Debug("webhook upstream response",
		"status_code", resp.StatusCode,
		"response_body", string(body))

	return nil
}

// Close cleans up the exporter's HTTP client resources.
func (e *Exporter) Close() error {
	if e == nil {
		return nil
	}
	e.httpClient.CloseIdleConnections()
	e.logger.Info("webhook exporter closed")
	return nil
}
