package strategyapi

import (
	"errors"
	"fmt"
)

// ErrUpstreamUnavailable 主地址与所有备用地址均重试耗尽。
var ErrUpstreamUnavailable = errors.New("strategy service unavailable")

type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindHTTP    ErrorKind = "http"
	KindNetwork ErrorKind = "network"
)

// CallError 描述单次请求失败。HTTP 类错误的 StatusCode 可能来自传输层状态码，
// 也可能来自响应包体中的 code 字段（FromEnvelope=true）。
type CallError struct {
	Kind         ErrorKind
	StatusCode   int
	FromEnvelope bool
	Endpoint     string
	Message      string
	Err          error
}

func (e *CallError) Error() string {
	switch e.Kind {
	case KindHTTP:
		src := "status"
		if e.FromEnvelope {
			src = "code"
		}
		if e.Message != "" {
			return fmt.Sprintf("%s: http error (%s=%d): %s", e.Endpoint, src, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("%s: http error (%s=%d)", e.Endpoint, src, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Endpoint, e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Endpoint, e.Kind)
	}
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Transient 超时、网络错误与 5xx 可重试；4xx 视为永久错误。
func (e *CallError) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork:
		return true
	case KindHTTP:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// StatusCode 提取错误链上的 HTTP/包体状态码，没有则返回 0。
func StatusCode(err error) int {
	var ce *CallError
	if errors.As(err, &ce) && ce.Kind == KindHTTP {
		return ce.StatusCode
	}
	return 0
}

// IsNotFound 远端返回 404。
func IsNotFound(err error) bool {
	return StatusCode(err) == 404
}
