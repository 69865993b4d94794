// MockHandler 是 llm.Handler 的测试模拟实现。
//
// 支持固定响应、按调用次序编排结果、流式输出与错误注入场景，
// 并统计 Chat / ChatStream 调用次数以及上游真正被读取的流式块数。
package mocks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"github.com/SkastVnT/AI-Assistant-sub002/types"
)

// --- MockHandler 结构 ---

// Outcome 是一次编排好的调用结果：Err 非空时返回错误，否则返回 Content。
type Outcome struct {
	Content string
	Err     error
}

// MockHandler 是 llm.Handler 的模拟实现
type MockHandler struct {
	mu sync.RWMutex

	name   string
	family string

	// 响应配置
	response     string
	streamChunks []string
	err          error
	script       []Outcome
	openErr      error
	streamErr    *types.Error

	// 调用记录
	requests []*llm.ChatRequest

	chatFunc   func(ctx context.Context, req *llm.ChatRequest) (string, error)
	streamFunc func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)

	// 行为控制
	delay time.Duration

	chatCalls   atomic.Int32
	streamCalls atomic.Int32
	pulled      atomic.Int32
	finished    chan struct{}
}

// --- 构造函数和 Builder 方法 ---

// NewMockHandler 创建新的 MockHandler
func NewMockHandler(name string) *MockHandler {
	return &MockHandler{
		name:     name,
		family:   llm.FamilyOpenAI,
		response: "Mock response",
		finished: make(chan struct{}, 64),
	}
}

// WithFamily 设置协议族
func (m *MockHandler) WithFamily(family string) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.family = family
	return m
}

// WithResponse 设置固定响应内容
func (m *MockHandler) WithResponse(response string) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置每次调用都返回的错误
func (m *MockHandler) WithError(err error) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithScript 按调用次序返回结果，用完后回落到固定响应/错误
func (m *MockHandler) WithScript(outcomes ...Outcome) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append([]Outcome(nil), outcomes...)
	return m
}

// WithStreamChunks 设置流式响应块
func (m *MockHandler) WithStreamChunks(chunks ...string) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = append([]string(nil), chunks...)
	return m
}

// WithStreamOpenError 设置打开流时返回的错误
func (m *MockHandler) WithStreamOpenError(err error) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
	return m
}

// WithStreamError 在所有流式块之后追加一个终止错误块
func (m *MockHandler) WithStreamError(err *types.Error) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	return m
}

// WithDelay 设置 Chat 响应延迟，延迟期间响应 ctx 取消
func (m *MockHandler) WithDelay(d time.Duration) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithChatFunc 设置自定义 Chat 函数
func (m *MockHandler) WithChatFunc(fn func(ctx context.Context, req *llm.ChatRequest) (string, error)) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatFunc = fn
	return m
}

// WithStreamFunc 设置自定义 ChatStream 函数
func (m *MockHandler) WithStreamFunc(fn func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)) *MockHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// --- llm.Handler 接口实现 ---

// Name 返回绑定名
func (m *MockHandler) Name() string { return m.name }

// Family 返回协议族
func (m *MockHandler) Family() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.family
}

// Chat 返回编排结果或固定响应
func (m *MockHandler) Chat(ctx context.Context, req *llm.ChatRequest) (string, error) {
	n := int(m.chatCalls.Add(1))

	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn, delay := m.chatFunc, m.delay
	var scripted *Outcome
	if n <= len(m.script) {
		o := m.script[n-1]
		scripted = &o
	}
	response, err := m.response, m.err
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", types.FromTransport(ctx.Err(), m.name)
		case <-timer.C:
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if scripted != nil {
		return scripted.Content, scripted.Err
	}
	if err != nil {
		return "", err
	}
	return response, nil
}

// ChatStream 以无缓冲通道逐块输出，每次发送都监听 ctx
func (m *MockHandler) ChatStream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.streamCalls.Add(1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn, openErr, streamErr := m.streamFunc, m.openErr, m.streamErr
	chunks := append([]string(nil), m.streamChunks...)
	if len(chunks) == 0 {
		chunks = []string{m.response}
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if openErr != nil {
		return nil, openErr
	}

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		defer func() {
			select {
			case m.finished <- struct{}{}:
			default:
			}
		}()

		for i, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- llm.StreamChunk{Index: i, Delta: c, Provider: m.name}:
				m.pulled.Add(1)
			}
		}
		if streamErr != nil {
			select {
			case <-ctx.Done():
			case ch <- llm.StreamChunk{Index: len(chunks), Provider: m.name, Err: streamErr}:
			}
		}
	}()
	return ch, nil
}

// --- 查询方法 ---

// ChatCalls 返回 Chat 调用次数
func (m *MockHandler) ChatCalls() int { return int(m.chatCalls.Load()) }

// StreamCalls 返回 ChatStream 调用次数
func (m *MockHandler) StreamCalls() int { return int(m.streamCalls.Load()) }

// Pulled 返回被下游实际接收的流式块数
func (m *MockHandler) Pulled() int { return int(m.pulled.Load()) }

// StreamFinished 在某个流的生产者 goroutine 退出后可读
func (m *MockHandler) StreamFinished() <-chan struct{} { return m.finished }

// Requests 获取所有请求记录
func (m *MockHandler) Requests() []*llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*llm.ChatRequest(nil), m.requests...)
}

// LastRequest 获取最后一次请求
func (m *MockHandler) LastRequest() *llm.ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset 重置计数与记录
func (m *MockHandler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.chatCalls.Store(0)
	m.streamCalls.Store(0)
	m.pulled.Store(0)
}

// --- 预设 Handler 工厂 ---

// NewSuccessHandler 创建总是成功的 Handler
func NewSuccessHandler(name, response string) *MockHandler {
	return NewMockHandler(name).WithResponse(response)
}

// NewErrorHandler 创建总是失败的 Handler
func NewErrorHandler(name string, err error) *MockHandler {
	return NewMockHandler(name).WithError(err)
}

// NewStreamHandler 创建流式响应的 Handler
func NewStreamHandler(name string, chunks ...string) *MockHandler {
	return NewMockHandler(name).WithStreamChunks(chunks...)
}

// NewFlakyHandler 创建前 failures 次返回瞬时错误、之后成功的 Handler
func NewFlakyHandler(name string, failures int, response string) *MockHandler {
	outcomes := make([]Outcome, failures)
	for i := range outcomes {
		outcomes[i] = Outcome{Err: types.NewTransientError(types.ErrUpstreamError, "flaky upstream").WithProvider(name)}
	}
	return NewMockHandler(name).WithResponse(response).WithScript(outcomes...)
}

var _ llm.Handler = (*MockHandler)(nil)
