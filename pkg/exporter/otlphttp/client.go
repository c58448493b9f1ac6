package otlphttp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/collector/pdata/plog"
	"go.opentelemetry.io/collector/pdata/plog/plogotlp"
	"go.opentelemetry.io/collector/pdata/pmetric"
	"go.opentelemetry.io/collector/pdata/pmetric/pmetricotlp"
	"go.opentelemetry.io/collector/pdata/ptrace"
	"go.opentelemetry.io/collector/pdata/ptrace/ptraceotlp"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/protobuf/proto"
)

const (
	maxHTTPResponseReadBytes = 64 * 1024

	protobufContentType = "application/x-protobuf"

	tracesPath  = "/v1/traces"
	metricsPath = "/v1/metrics"
	logsPath    = "/v1/logs"
)

// Config describes an OTLP/HTTP destination.
type Config struct {
	// Endpoint is the base URL of the downstream collector, without the
	// per-signal path, e.g. "https://collector:4318".
	Endpoint string
	// Insecure skips TLS certificate verification for https endpoints.
	Insecure bool
	// Middleware modifies outgoing requests, e.g. to attach headers.
	Middleware []MiddlewareOption
	UserAgent  string
	Logger     hclog.Logger
}

// Client speaks OTLP/HTTP with protobuf bodies to a single destination.
type Client struct {
	baseURL   *url.URL
	userAgent string
	client    *http.Client
	logger    hclog.Logger
}

func New(cfg *Config) (*Client, error) {
	baseURL, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("bad endpoint url %q: %w", cfg.Endpoint, err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("endpoint url %q must use http or https", cfg.Endpoint)
	}

	transport := cleanhttp.DefaultPooledTransport()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL:   baseURL,
		userAgent: cfg.UserAgent,
		logger:    cfg.Logger,
		client: &http.Client{
			Transport: &roundTripperWithMiddleware{
				OriginalRoundTripper: transport,
				MiddlewareOptions:    cfg.Middleware,
			},
		},
	}, nil
}

func (c *Client) ExportTraces(ctx context.Context, td ptrace.Traces) error {
	body, err := ptraceotlp.NewExportRequestFromTraces(td).MarshalProto()
	if err != nil {
		return fmt.Errorf("failed to marshal export request: %w", err)
	}
	respBody, err := c.export(ctx, tracesPath, body)
	if err != nil {
		return err
	}
	if len(respBody) > 0 {
		resp := ptraceotlp.NewExportResponse()
		if err := resp.UnmarshalProto(respBody); err == nil {
			if n := resp.PartialSuccess().RejectedSpans(); n > 0 {
				c.logger.Warn("remote rejected spans",
					"rejected", n, "message", resp.PartialSuccess().ErrorMessage())
			}
		}
	}
	return nil
}

func (c *Client) ExportMetrics(ctx context.Context, md pmetric.Metrics) error {
	body, err := pmetricotlp.NewExportRequestFromMetrics(md).MarshalProto()
	if err != nil {
		return fmt.Errorf("failed to marshal export request: %w", err)
	}
	respBody, err := c.export(ctx, metricsPath, body)
	if err != nil {
		return err
	}
	if len(respBody) > 0 {
		resp := pmetricotlp.NewExportResponse()
		if err := resp.UnmarshalProto(respBody); err == nil {
			if n := resp.PartialSuccess().RejectedDataPoints(); n > 0 {
				c.logger.Warn("remote rejected data points",
					"rejected", n, "message", resp.PartialSuccess().ErrorMessage())
			}
		}
	}
	return nil
}

func (c *Client) ExportLogs(ctx context.Context, ld plog.Logs) error {
	body, err := plogotlp.NewExportRequestFromLogs(ld).MarshalProto()
	if err != nil {
		return fmt.Errorf("failed to marshal export request: %w", err)
	}
	respBody, err := c.export(ctx, logsPath, body)
	if err != nil {
		return err
	}
	if len(respBody) > 0 {
		resp := plogotlp.NewExportResponse()
		if err := resp.UnmarshalProto(respBody); err == nil {
			if n := resp.PartialSuccess().RejectedLogRecords(); n > 0 {
				c.logger.Warn("remote rejected log records",
					"rejected", n, "message", resp.PartialSuccess().ErrorMessage())
			}
		}
	}
	return nil
}

func (c *Client) export(ctx context.Context, path string, body []byte) ([]byte, error) {
	url := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build http request: %w", err)
	}
	req.Header.Set("Content-Type", protobufContentType)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make an HTTP request: %w", err)
	}

	defer func() {
		// Discard any remaining response body when we are done reading.
		io.CopyN(io.Discard, resp.Body, maxHTTPResponseReadBytes) // nolint:errcheck
		resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		respBody, err := readResponseBody(resp)
		if err != nil {
			return nil, nil
		}
		return respBody, nil
	}

	// Use the rpc status from the response body if it is present. The OTLP
	// spec requires 4xx/5xx bodies to be a protobuf-encoded Status.
	if respStatus := readResponseStatus(resp); respStatus != nil {
		return nil, fmt.Errorf(
			"error exporting items, request to %s responded with HTTP Status Code %d, Message=%s, Details=%v",
			url, resp.StatusCode, respStatus.Message, respStatus.Details)
	}
	return nil, fmt.Errorf(
		"error exporting items, request to %s responded with HTTP Status Code %d",
		url, resp.StatusCode)
}

func readResponseBody(resp *http.Response) ([]byte, error) {
	if resp.ContentLength == 0 {
		return nil, nil
	}

	maxRead := resp.ContentLength

	// if maxRead == -1, the ContentLength header has not been sent, so read
	// up to the maximum permitted body size. If the body is larger than the
	// permitted size, proto unmarshaling will likely fail.
	if maxRead == -1 || maxRead > maxHTTPResponseReadBytes {
		maxRead = maxHTTPResponseReadBytes
	}
	protoBytes := make([]byte, maxRead)
	n, err := io.ReadFull(resp.Body, protoBytes)

	// No bytes read and an EOF error indicates there is no body to read.
	if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
		return nil, nil
	}

	// io.ReadFull returns io.ErrUnexpectedEOF when the Content-Length header
	// wasn't set, since we try to read past the length of the body. The body
	// still holds the full message in that case.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}

	return protoBytes[:n], nil
}

// readResponseStatus decodes the status.Status from a failed response's
// body. Returns nil if the body is empty or cannot be decoded.
func readResponseStatus(resp *http.Response) *status.Status {
	respBytes, err := readResponseBody(resp)
	if err != nil || len(respBytes) == 0 {
		return nil
	}

	respStatus := &status.Status{}
	if err := proto.Unmarshal(respBytes, respStatus); err != nil {
		return nil
	}
	return respStatus
}
