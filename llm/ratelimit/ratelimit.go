// Package ratelimit adds an AIMD-style adaptive token bucket on top of an
// llm.Completer, optionally coordinated across a process cluster via a Pulse
// replicated map. It is a direct extension of the Gateway's concurrency cap:
// where the Gateway bounds in-flight requests, the adaptive limiter bounds
// the estimated token throughput and backs off automatically when the
// provider starts rate limiting.
package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/goa-ai/llm"
	"goa.design/pulse/rmap"
)

// AdaptiveLimiter wraps an llm.Completer with an adaptive tokens-per-minute
// budget. It estimates the token cost of each request from the prompt
// length, blocks callers until capacity is available, and halves its budget
// whenever the wrapped Completer reports ErrRateLimited, probing back
// upward on each successful call.
type AdaptiveLimiter struct {
	mu sync.Mutex

	next llm.Completer

	limiter *rate.Limiter

	currentTPM float64
	minTPM     float64
	maxTPM     float64

	recoveryRate float64

	onBackoff func(newTPM float64)
	onProbe   func(newTPM float64)
}

// clusterMap is the subset of rmap.Map used by the cluster-aware limiter.
type clusterMap interface {
	Get(key string) (string, bool)
	SetIfNotExists(ctx context.Context, key, value string) (bool, error)
	TestAndSet(ctx context.Context, key, test, value string) (string, error)
	Subscribe() <-chan rmap.EventKind
}

type rmapClusterMap struct {
	m *rmap.Map
}

// Wrap constructs an AdaptiveLimiter around next with a process-local
// tokens-per-minute budget.
func Wrap(next llm.Completer, initialTPM, maxTPM float64) *AdaptiveLimiter {
	return wrapCluster(next, nil, "", initialTPM, maxTPM)
}

// WrapClustered constructs an AdaptiveLimiter that coordinates its budget
// across a process cluster using a Pulse replicated map keyed by key. When m
// is nil, it behaves exactly like Wrap.
func WrapClustered(ctx context.Context, next llm.Completer, m *rmap.Map, key string, initialTPM, maxTPM float64) *AdaptiveLimiter {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{m: m}
	}
	return wrapCluster(next, cm, key, initialTPM, maxTPM)
}

func wrapCluster(next llm.Completer, m clusterMap, key string, initialTPM, maxTPM float64) *AdaptiveLimiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}

	sharedTPM := initialTPM
	if m != nil && key != "" {
		if _, ok := m.Get(key); !ok {
			_, _ = m.SetIfNotExists(context.Background(), key, strconv.Itoa(int(initialTPM)))
		}
		if cur, ok := m.Get(key); ok {
			if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
				sharedTPM = v
			}
		}
	}

	l := &AdaptiveLimiter{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(sharedTPM/60.0), int(sharedTPM)),
		currentTPM:   sharedTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}

	if m != nil && key != "" {
		l.onBackoff = func(_ float64) { go globalBackoff(context.Background(), m, key, minTPM) }
		l.onProbe = func(_ float64) { go globalProbe(context.Background(), m, key, recoveryRate, maxTPM) }
		ch := m.Subscribe()
		go func() {
			for range ch {
				cur, ok := m.Get(key)
				if !ok {
					continue
				}
				v, err := strconv.ParseFloat(cur, 64)
				if err != nil || v <= 0 {
					continue
				}
				l.replaceTPM(v)
			}
		}()
	}

	return l
}

// Compile-time check that AdaptiveLimiter implements llm.Completer.
var _ llm.Completer = (*AdaptiveLimiter)(nil)

// Complete enforces the adaptive budget before delegating to the wrapped
// Completer, then adjusts the budget based on the outcome.
func (l *AdaptiveLimiter) Complete(ctx context.Context, systemPrompt, userPrompt string, opts llm.CompletionOptions) (string, llm.FinishReason, error) {
	tokens := estimateTokens(systemPrompt, userPrompt)
	if err := l.limiter.WaitN(ctx, tokens); err != nil {
		return "", "", err
	}
	text, finish, err := l.next.Complete(ctx, systemPrompt, userPrompt, opts)
	l.observe(err)
	return text, finish, err
}

func (l *AdaptiveLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, llm.ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveLimiter) backoff() {
	l.mu.Lock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onBackoff
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *AdaptiveLimiter) probe() {
	l.mu.Lock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	if newTPM == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
	cb := l.onProbe
	l.mu.Unlock()
	if cb != nil {
		cb(newTPM)
	}
}

func (l *AdaptiveLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	if tpm < l.minTPM {
		tpm = l.minTPM
	}
	if tpm > l.maxTPM {
		tpm = l.maxTPM
	}
	if tpm == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
	l.mu.Unlock()
}

// estimateTokens computes a cheap heuristic for the number of tokens a
// request will consume: character count over a fixed ratio, plus a buffer
// for system prompt and provider framing overhead.
func estimateTokens(systemPrompt, userPrompt string) int {
	charCount := len(systemPrompt) + len(userPrompt)
	if charCount <= 0 {
		return 500
	}
	tokens := charCount / 3
	if tokens < 1 {
		tokens = 1
	}
	return tokens + 500
}

func (m *rmapClusterMap) Get(key string) (string, bool) { return m.m.Get(key) }

func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}

func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}

func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind { return m.m.Subscribe() }

func globalBackoff(ctx context.Context, m clusterMap, key string, floor float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := cur * 0.5
		if next < floor {
			next = floor
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}

func globalProbe(ctx context.Context, m clusterMap, key string, step, ceiling float64) {
	const maxAttempts = 3
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for i := 0; i < maxAttempts; i++ {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		if cur >= ceiling {
			return
		}
		next := cur + step
		if next > ceiling {
			next = ceiling
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}
