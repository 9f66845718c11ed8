// Package strategyapi 封装远端策略/成交记录服务的 HTTP 访问：
// 单次请求超时、固定间隔重试、主备地址按序故障转移和健康探测。
package strategyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"qmtrader/internal/logger"
	"qmtrader/internal/pkg/circuit"
	"qmtrader/internal/pkg/text"

	"github.com/tidwall/gjson"
)

var log = logger.With("strategyapi")

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4096
)

// Config 描述客户端行为。RetryTimes 为每个地址的总尝试次数。
type Config struct {
	BaseURL          string
	BackupURLs       []string
	Token            string
	Timeout          time.Duration
	RetryTimes       int
	RetryInterval    time.Duration
	HealthPath       string
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

type endpoint struct {
	raw     string
	base    *url.URL
	breaker *circuit.Breaker
}

// Client 对调用方屏蔽重试与切换细节：要么拿到数据，要么拿到最终错误。
type Client struct {
	endpoints     []*endpoint
	httpClient    *http.Client
	token         string
	timeout       time.Duration
	retryTimes    int
	retryInterval time.Duration
	healthPath    string
}

type Option func(*Client)

// WithHTTPClient 替换底层 http.Client（测试或自定义 Transport）。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	raws := append([]string{cfg.BaseURL}, cfg.BackupURLs...)
	endpoints := make([]*endpoint, 0, len(raws))
	for i, raw := range raws {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		if raw == "" {
			if i == 0 {
				return nil, fmt.Errorf("strategyapi: base url cannot be empty")
			}
			continue
		}
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("strategyapi: invalid url %q", raw)
		}
		endpoints = append(endpoints, &endpoint{
			raw:     raw,
			base:    parsed,
			breaker: circuit.New(raw, cfg.BreakerThreshold, cfg.BreakerCooldown),
		})
	}
	c := &Client{
		endpoints:     endpoints,
		httpClient:    &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()},
		token:         strings.TrimSpace(cfg.Token),
		timeout:       cfg.Timeout,
		retryTimes:    cfg.RetryTimes,
		retryInterval: cfg.RetryInterval,
		healthPath:    strings.TrimSpace(cfg.HealthPath),
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.retryTimes < 1 {
		c.retryTimes = 1
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Endpoints 返回按优先级排列的基础地址。
func (c *Client) Endpoints() []string {
	out := make([]string, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		out = append(out, ep.raw)
	}
	return out
}

// Call 发起请求并返回包体中的 data 字段。
// 临时错误在同一地址上重试 RetryTimes 次，随后按序切换备用地址；
// 4xx 立即返回，不重试也不切换。全部失败时错误同时匹配 ErrUpstreamUnavailable 与最后一次 *CallError。
func (c *Client) Call(ctx context.Context, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	return c.call(ctx, method, path, query, payload, nil)
}

// call 与 Call 相同，header 会附加到每一次尝试上（含重试与备用地址）。
func (c *Client) call(ctx context.Context, method, path string, query url.Values, payload any, header http.Header) (json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("strategyapi client 未初始化")
	}
	var body []byte
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}
		body = buf
	}
	var lastErr error
	for idx, ep := range c.endpoints {
		if !ep.breaker.Allow() {
			log.Debugf("skip %s: circuit open", ep.raw)
			if lastErr == nil {
				lastErr = &CallError{Kind: KindNetwork, Endpoint: ep.raw, Err: errors.New("circuit open")}
			}
			continue
		}
		data, err := c.callEndpoint(ctx, ep, method, path, query, body, header)
		if err == nil {
			if idx > 0 {
				log.Warnf("%s %s served by backup %s", method, path, ep.raw)
			}
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var ce *CallError
		if errors.As(err, &ce) && !ce.Transient() {
			return nil, err
		}
		lastErr = err
		log.Warnf("%s %s failed on %s after %d attempts: %v", method, path, ep.raw, c.retryTimes, err)
	}
	if lastErr == nil {
		lastErr = errors.New("no endpoint configured")
	}
	return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, lastErr)
}

func (c *Client) callEndpoint(ctx context.Context, ep *endpoint, method, path string, query url.Values, body []byte, header http.Header) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retryTimes; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, c.retryInterval); err != nil {
				return nil, err
			}
		}
		data, err := c.doOnce(ctx, ep, method, path, query, body, header)
		if err == nil {
			ep.breaker.Success()
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var ce *CallError
		if errors.As(err, &ce) && !ce.Transient() {
			// 服务可达，只是请求本身有问题
			ep.breaker.Success()
			return nil, err
		}
		ep.breaker.Failure()
		lastErr = err
		log.Debugf("attempt %d/%d %s %s%s: %v", attempt, c.retryTimes, method, ep.raw, path, err)
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, ep *endpoint, method, path string, query url.Values, body []byte, header http.Header) (json.RawMessage, error) {
	target := resolveEndpoint(ep.base, path, query)
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, ep.raw, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, ep.raw, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(text.Truncate(string(raw), maxErrorBody))
		if gjson.ValidBytes(raw) {
			if m := gjson.GetBytes(raw, "message"); m.Exists() {
				msg = m.String()
			}
		}
		return nil, &CallError{Kind: KindHTTP, StatusCode: resp.StatusCode, Endpoint: ep.raw, Message: msg}
	}
	return unwrapEnvelope(ep.raw, raw)
}

// unwrapEnvelope 解析 {code, message, data}；缺少 code 时把整个包体当作 data。
func unwrapEnvelope(endpoint string, raw []byte) (json.RawMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, &CallError{Kind: KindHTTP, StatusCode: http.StatusBadGateway, Endpoint: endpoint, Message: "invalid json body"}
	}
	root := gjson.ParseBytes(raw)
	code := root.Get("code")
	if !root.IsObject() || !code.Exists() {
		return json.RawMessage(raw), nil
	}
	status := int(code.Int())
	if status != http.StatusOK && status != 0 {
		return nil, &CallError{
			Kind:         KindHTTP,
			StatusCode:   status,
			FromEnvelope: true,
			Endpoint:     endpoint,
			Message:      root.Get("message").String(),
		}
	}
	data := root.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil, nil
	}
	return json.RawMessage(data.Raw), nil
}

func classifyTransportError(parent context.Context, endpoint string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CallError{Kind: KindTimeout, Endpoint: endpoint, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &CallError{Kind: KindTimeout, Endpoint: endpoint, Err: err}
	}
	return &CallError{Kind: KindNetwork, Endpoint: endpoint, Err: err}
}

func resolveEndpoint(base *url.URL, path string, query url.Values) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + trimmed
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	} else {
		u.RawQuery = ""
	}
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

