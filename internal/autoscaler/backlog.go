package autoscaler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/rzbill/llmq/internal/config"
)

// BacklogMetric is the gauge scraped by PrometheusReader.
const BacklogMetric = "llmq_queue_messages"

// NewBacklogReader builds the reader selected by cfg.Source.
func NewBacklogReader(cfg config.AutoscalerConfig, hc *http.Client) (BacklogReader, error) {
	switch cfg.Source {
	case config.SourceAPI, "":
		return NewAPIReader(cfg.APIURL, hc)
	case config.SourcePrometheus:
		return NewPrometheusReader(cfg.PrometheusURL, hc)
	default:
		return nil, fmt.Errorf("unknown backlog source %q", cfg.Source)
	}
}

// APIReader reads "messages" from the broker management API. Credentials in
// the base URL are sent as basic auth.
type APIReader struct {
	base   *url.URL
	client *http.Client
}

// NewAPIReader returns a reader for the management API at baseURL.
func NewAPIReader(baseURL string, hc *http.Client) (*APIReader, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("api url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api url %q: scheme and host required", baseURL)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &APIReader{base: u, client: hc}, nil
}

// Backlog implements BacklogReader. It uses the default-vhost route so the
// same reader works against a RabbitMQ management plugin.
func (r *APIReader) Backlog(ctx context.Context, queue string) (int, error) {
	target := strings.TrimRight(r.base.Scheme+"://"+r.base.Host+r.base.Path, "/") +
		"/api/queues/%2F/" + url.PathEscape(queue)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	if u := r.base.User; u != nil {
		pass, _ := u.Password()
		req.SetBasicAuth(u.Username(), pass)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("GET %s: unexpected status %d", target, resp.StatusCode)
	}
	var body struct {
		Messages *int `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode queue %s: %w", queue, err)
	}
	if body.Messages == nil {
		return 0, fmt.Errorf("queue %s: response has no messages field", queue)
	}
	return *body.Messages, nil
}

// PrometheusReader scrapes a text exposition endpoint for BacklogMetric.
type PrometheusReader struct {
	url    string
	client *http.Client
}

// NewPrometheusReader returns a reader scraping metricsURL.
func NewPrometheusReader(metricsURL string, hc *http.Client) (*PrometheusReader, error) {
	if _, err := url.ParseRequestURI(metricsURL); err != nil {
		return nil, fmt.Errorf("prometheus url: %w", err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &PrometheusReader{url: metricsURL, client: hc}, nil
}

// Backlog implements BacklogReader.
func (r *PrometheusReader) Backlog(ctx context.Context, queue string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "text/plain;version=0.0.4")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("scrape %s: unexpected status %d", r.url, resp.StatusCode)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", r.url, err)
	}
	mf, ok := families[BacklogMetric]
	if !ok {
		return 0, fmt.Errorf("%s not exposed by %s", BacklogMetric, r.url)
	}
	for _, m := range mf.GetMetric() {
		if labelValue(m, "queue") != queue {
			continue
		}
		v, ok := metricValue(m)
		if !ok {
			return 0, fmt.Errorf("%s{queue=%q} has no value", BacklogMetric, queue)
		}
		return int(v), nil
	}
	return 0, fmt.Errorf("%s{queue=%q} not found", BacklogMetric, queue)
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func metricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Gauge != nil:
		return m.GetGauge().GetValue(), true
	case m.Untyped != nil:
		return m.GetUntyped().GetValue(), true
	case m.Counter != nil:
		return m.GetCounter().GetValue(), true
	}
	return 0, false
}
