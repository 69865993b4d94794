// Package fallback 实现模型降级链：主模型失败后按静态表依次尝试备用模型。
package fallback

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/SkastVnT/AI-Assistant-sub002/llm"
	"go.uber.org/zap"
)

// Table 主模型名 -> 有序备用模型列表
type Table map[string][]string

// BuildTable merges the explicit table with each binding's declared Fallback.
// A declared fallback is appended after the explicit alternates unless already listed.
func BuildTable(models []llm.ModelConfig, explicit map[string][]string) Table {
	t := make(Table, len(explicit)+len(models))
	for k, v := range explicit {
		t[k] = append([]string(nil), v...)
	}
	for _, m := range models {
		if m.Fallback == "" {
			continue
		}
		if !slices.Contains(t[m.Name], m.Fallback) {
			t[m.Name] = append(t[m.Name], m.Fallback)
		}
	}
	return t
}

// ValidateTable rejects self references and cycles.
func ValidateTable(t Table) error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(t))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case grey:
			start := 0
			for i, p := range path {
				if p == name {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), name)
			return fmt.Errorf("fallback cycle: %s", strings.Join(cycle, " -> "))
		case black:
			return nil
		}
		color[name] = grey
		path = append(path, name)
		for _, next := range t[name] {
			if err := visit(next); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return nil
	}

	// 排序保证报错信息稳定
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

// HopFunc is notified when the chain moves on from a failed candidate.
type HopFunc func(from, to string, err error)

// Manager walks the fallback chain of a primary model.
type Manager struct {
	table  Table
	onHop  HopFunc
	logger *zap.Logger
}

// NewManager creates a Manager over a static table. The table is copied.
func NewManager(t Table, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cp := make(Table, len(t))
	for k, v := range t {
		cp[k] = append([]string(nil), v...)
	}
	return &Manager{table: cp, logger: logger.With(zap.String("component", "fallback"))}
}

// OnHop sets the hop observer. It must be called before the manager is shared.
func (m *Manager) OnHop(fn HopFunc) *Manager {
	m.onHop = fn
	return m
}

// Alternates returns the direct alternates of name.
func (m *Manager) Alternates(name string) []string {
	return append([]string(nil), m.table[name]...)
}

// Chain returns primary followed by its alternates in breadth-first order.
// Every name appears at most once, so a cyclic table still yields a finite chain.
func (m *Manager) Chain(primary string) []string {
	visited := map[string]bool{primary: true}
	chain := []string{primary}
	for i := 0; i < len(chain); i++ {
		for _, next := range m.table[chain[i]] {
			if visited[next] {
				continue
			}
			visited[next] = true
			chain = append(chain, next)
		}
	}
	return chain
}

// Result is the outcome of walking a chain.
type Result[T any] struct {
	Value      T
	Model      string
	IsFallback bool
	Err        error
	Tried      []string
}

// AttemptFunc performs the full resilient call against one candidate.
type AttemptFunc[T any] func(ctx context.Context, model string) (T, error)

// Execute tries primary, then each alternate in order, returning the first
// success. When every candidate fails the last failure is returned. The walk
// stops early once ctx is done.
func Execute[T any](ctx context.Context, m *Manager, primary string, attempt AttemptFunc[T]) Result[T] {
	chain := []string{primary}
	if m != nil {
		chain = m.Chain(primary)
	}

	var res Result[T]
	for i, name := range chain {
		if err := ctx.Err(); err != nil {
			if res.Err == nil {
				res.Err = err
			}
			return res
		}
		if i > 0 && m != nil {
			m.logger.Warn("falling back to alternate model",
				zap.String("primary", primary),
				zap.String("from", chain[i-1]),
				zap.String("to", name),
				zap.Error(res.Err))
			if m.onHop != nil {
				m.onHop(chain[i-1], name, res.Err)
			}
		}

		res.Tried = append(res.Tried, name)
		v, err := attempt(ctx, name)
		if err == nil {
			res.Value = v
			res.Model = name
			res.IsFallback = name != primary
			res.Err = nil
			return res
		}
		res.Model = name
		res.Err = err
	}
	return res
}
