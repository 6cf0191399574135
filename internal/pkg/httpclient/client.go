// internal/pkg/httpclient/client.go

package httpclient

import (
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

// Resolver 把服务名解析为 base URL（例如 http://10.0.0.3:8080）
type Resolver interface {
	ResolveBaseURL(ctx context.Context, serviceName string) (string, error)
}

// StaticResolver 直接返回固定地址，用于本地调试和测试
type StaticResolver map[string]string

func (s StaticResolver) ResolveBaseURL(_ context.Context, serviceName string) (string, error) {
	base, ok := s[serviceName]
	if !ok {
		return "", fmt.Errorf("no static address for service '%s'", serviceName)
	}
	return base, nil
}

// StatusError 表示下游返回了非 2xx 状态码
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("service %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Client 是一个可追踪的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
	Resolver   Resolver
}

// NewClient 创建一个新的客户端实例
func NewClient(tracer trace.Tracer, resolver Resolver) *Client {
	// 不设置 Timeout，超时完全受控于每次请求传入的 context
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
		Resolver:   resolver,
	}
}

// GetJSON 调用 serviceName 的 path 接口，并把响应体解码到 out
func (c *Client) GetJSON(ctx context.Context, serviceName, path string, params url.Values, out any) error {
	base, err := c.Resolver.ResolveBaseURL(ctx, serviceName)
	if err != nil {
		return err
	}
	target := strings.TrimRight(base, "/") + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return c.do(ctx, serviceName, http.MethodGet, target, nil, out)
}

func (c *Client) do(ctx context.Context, target, method, rawURL string, body io.Reader, out any) error {
	spanName := fmt.Sprintf("call-%s", target)
	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.String("http.url", rawURL),
		attribute.String("http.method", method),
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
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		err = fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
