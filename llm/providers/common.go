package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/internal/tlsutil"
	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/types"
	"go.uber.org/zap"
)

// maxErrorBody 限制读取错误响应体的大小
const maxErrorBody = 64 << 10

// MapHTTPError 将 HTTP 状态码映射为带有合适重试标记的 types.Error
// 这是所有适配器使用的通用错误映射函数
func MapHTTPError(status int, msg string, provider string) *types.Error {
	var e *types.Error
	switch status {
	case http.StatusUnauthorized:
		e = types.NewError(types.ErrUnauthorized, msg)
	case http.StatusForbidden:
		e = types.NewError(types.ErrForbidden, msg)
	case http.StatusTooManyRequests:
		e = types.NewTransientError(types.ErrRateLimited, msg)
	case http.StatusRequestTimeout:
		e = types.NewTransientError(types.ErrUpstreamTimeout, msg)
	case http.StatusBadRequest:
		// 检查配额/信用关键字
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") ||
			strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "limit") {
			e = types.NewError(types.ErrQuotaExceeded, msg)
		} else {
			e = types.NewError(types.ErrInvalidRequest, msg)
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		e = types.NewTransientError(types.ErrUpstreamError, msg)
	case 529: // Model overloaded (used by some providers)
		e = types.NewTransientError(types.ErrModelOverloaded, msg)
	default:
		e = types.NewError(types.ErrUpstreamError, msg).WithRetryable(status >= 500)
	}
	return e.WithHTTPStatus(status).WithProvider(provider)
}

// ReadErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		switch {
		case errResp.Error.Type != "":
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		case errResp.Error.Status != "":
			return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
		}
		return errResp.Error.Message
	}

	// 回退到原始文本
	return strings.TrimSpace(string(data))
}

// SafeCloseBody drains and closes a response body so the connection can be reused.
func SafeCloseBody(body io.ReadCloser) {
	if body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}

// Base 承载所有适配器共享的状态：绑定配置、HTTP 客户端与日志。
// 具体适配器嵌入 Base，只实现各自的请求构建与响应解析。
type Base struct {
	Cfg    llm.ModelConfig
	Client *http.Client
	Logger *zap.Logger
}

// NewBase applies binding defaults and builds the hardened HTTP client.
// The client has no overall deadline; the orchestrator bounds each Chat attempt
// with Cfg.Timeout and streams are bounded by the header wait plus the caller's context.
func NewBase(cfg llm.ModelConfig, defaultBaseURL string, logger *zap.Logger) Base {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	return Base{
		Cfg:    cfg,
		Client: tlsutil.StreamingHTTPClient(cfg.Timeout),
		Logger: logger.With(zap.String("provider", cfg.Name), zap.String("family", cfg.Family)),
	}
}

// Name returns the binding name.
func (b *Base) Name() string { return b.Cfg.Name }

// Family returns the wire-family tag.
func (b *Base) Family() string { return b.Cfg.Family }

// Close releases idle upstream connections.
func (b *Base) Close() error {
	b.Client.CloseIdleConnections()
	return nil
}

// PostJSON sends body to url and returns the response when the status is below 400.
// Transport failures and error statuses come back as *types.Error.
func (b *Base) PostJSON(ctx context.Context, url string, body any, headers func(*http.Request)) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to marshal request").
			WithCause(err).WithProvider(b.Name())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "failed to create request").
			WithCause(err).WithProvider(b.Name())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	requestID, _ := types.RequestID(ctx)
	if requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}
	if headers != nil {
		headers(httpReq)
	}

	resp, err := b.Client.Do(httpReq)
	if err != nil {
		return nil, types.FromTransport(err, b.Name())
	}
	if resp.StatusCode >= 400 {
		msg := ReadErrorMessage(resp.Body)
		SafeCloseBody(resp.Body)
		model, _ := types.LLMModel(ctx)
		b.Logger.Debug("upstream returned error status",
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg),
			zap.String("hop", model),
			zap.String("request_id", requestID))
		return nil, MapHTTPError(resp.StatusCode, msg, b.Name())
	}
	return resp, nil
}

// DecodeJSON decodes a successful response body and closes it.
func (b *Base) DecodeJSON(resp *http.Response, out any) error {
	defer SafeCloseBody(resp.Body)
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return types.FromTransport(err, b.Name())
	}
	return nil
}

// Probe issues a GET against url and reports upstream health.
func (b *Base) Probe(ctx context.Context, url string, headers func(*http.Request)) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &llm.HealthStatus{Healthy: false}, err
	}
	if headers != nil {
		headers(httpReq)
	}
	resp, err := b.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: err.Error()}, types.FromTransport(err, b.Name())
	}
	defer SafeCloseBody(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg := ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency, Message: msg},
			fmt.Errorf("%s health check failed: status=%d msg=%s", b.Name(), resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// EventParser decodes one SSE data payload into a text delta.
// done=true ends the stream without emitting further fragments.
type EventParser func(data []byte) (delta string, done bool, err error)

// ScanSSE reads an SSE body and forwards each non-empty delta on an unbuffered
// channel. Every send selects on ctx.Done; on cancellation the body is closed
// and nothing more is read from upstream.
func ScanSSE(ctx context.Context, body io.ReadCloser, provider string, parse EventParser) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		send := func(chunk llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		reader := bufio.NewReader(body)
		index := 0
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					send(llm.StreamChunk{Provider: provider, Index: index, Err: types.FromTransport(err, provider)})
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				// event: / id: / 注释行
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			delta, done, perr := parse([]byte(data))
			if perr != nil {
				var te *types.Error
				if !errors.As(perr, &te) {
					te = types.NewTransientError(types.ErrUpstreamError, "malformed stream event").
						WithCause(perr).WithProvider(provider)
				}
				send(llm.StreamChunk{Provider: provider, Index: index, Err: te})
				return
			}
			if delta != "" {
				if !send(llm.StreamChunk{Provider: provider, Index: index, Delta: delta}) {
					return
				}
				index++
			}
			if done {
				return
			}
		}
	}()
	return ch
}
