package strategyapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var fallbackHealthPaths = []string{"/ping", "/health", "/"}

type EndpointHealth struct {
	BaseURL string
	Healthy bool
	Path    string
	Latency time.Duration
	Err     string
}

type HealthReport struct {
	CheckedAt time.Time
	Endpoints []EndpointHealth
}

// AnyHealthy 至少一个地址可用时远端视为可用。
func (r HealthReport) AnyHealthy() bool {
	for _, ep := range r.Endpoints {
		if ep.Healthy {
			return true
		}
	}
	return false
}

// Probe 依次探测每个地址：配置的健康路径、/ping、/health、/，首个 2xx 即视为健康。
// 探测成功会关闭该地址的熔断器。
func (c *Client) Probe(ctx context.Context) HealthReport {
	report := HealthReport{CheckedAt: time.Now()}
	if c == nil {
		return report
	}
	paths := c.healthPaths()
	for _, ep := range c.endpoints {
		h := EndpointHealth{BaseURL: ep.raw}
		var lastErr error
		for _, p := range paths {
			start := time.Now()
			err := c.probeOnce(ctx, ep, p)
			if err == nil {
				h.Healthy = true
				h.Path = p
				h.Latency = time.Since(start)
				break
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
		}
		if h.Healthy {
			ep.breaker.Success()
		} else {
			ep.breaker.Failure()
			if lastErr != nil {
				h.Err = lastErr.Error()
			}
			log.Warnf("health probe failed for %s: %s", ep.raw, h.Err)
		}
		report.Endpoints = append(report.Endpoints, h)
	}
	return report
}

func (c *Client) healthPaths() []string {
	out := make([]string, 0, len(fallbackHealthPaths)+1)
	seen := make(map[string]bool, len(fallbackHealthPaths)+1)
	candidates := append([]string{c.healthPath}, fallbackHealthPaths...)
	for _, p := range candidates {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func (c *Client) probeOnce(ctx context.Context, ep *endpoint, path string) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, resolveEndpoint(ep.base, path, nil), nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, ep.raw, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s%s status=%d", ep.raw, path, resp.StatusCode)
	}
	return nil
}
