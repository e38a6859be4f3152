// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusError 表示下游返回了非 2xx 状态码
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
}

// NewClient 创建一个新的客户端实例
func NewClient(tracer trace.Tracer) *Client {
	// 不设置 Timeout 字段，让其完全受控于每次请求传入的 context
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
	}
}

// PostJSON 以 JSON 发送请求体，并把 2xx 响应解码到 out（out 可为 nil）
func (c *Client) PostJSON(ctx context.Context, serviceURL string, in, out any) error {
	parsedURL, err := url.Parse(serviceURL)
	if err != nil {
		return err
	}
	spanName := fmt.Sprintf("call-%s%s", strings.Split(parsedURL.Host, ":")[0], parsedURL.Path)

	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, err := json.Marshal(in)
	if err != nil {
		span.RecordError(err)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsedURL.String(), bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	span.SetAttributes(
		attribute.String("http.url", parsedURL.String()),
		attribute.String("http.method", http.MethodPost),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := &StatusError{URL: serviceURL, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("decode response from %s: %w", serviceURL, err)
	}
	return nil
}
