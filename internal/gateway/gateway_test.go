package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/companyreportflow/internal/cache"
)

type fakeModel struct {
	mu      sync.Mutex
	calls   int
	replies []Reply
	errs    []error
}

func (m *fakeModel) Name() string { return "fake-model" }

func (m *fakeModel) Generate(_ context.Context, _ Request) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	var err error
	if len(m.errs) > 0 {
		err = m.errs[min(i, len(m.errs)-1)]
	}
	if err != nil {
		return Reply{}, err
	}
	if len(m.replies) == 0 {
		return TextReply("reply"), nil
	}
	return m.replies[min(i, len(m.replies)-1)], nil
}

type memSidecar struct{}

func (memSidecar) Load(context.Context) (map[string]string, error) { return map[string]string{}, nil }
func (memSidecar) Save(context.Context, map[string]string) error   { return nil }

// fakeClock advances only when the gateway sleeps.
type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newTestGateway(cfg Config) (*Gateway, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := New(cache.New(memSidecar{}, 100), cfg)
	g.now = func() time.Time { return clock.now }
	g.sleep = func(_ context.Context, d time.Duration) error {
		clock.sleeps = append(clock.sleeps, d)
		clock.now = clock.now.Add(d)
		return nil
	}
	g.jitter = func(time.Duration) time.Duration { return 0 }
	return g, clock
}

func testConfig() Config {
	return Config{MaxRetries: 5, Timeout: 300 * time.Second, BaseWait: time.Second}
}

func TestInvoke_CachesSuccessfulReplies(t *testing.T) {
	g, _ := newTestGateway(testConfig())
	model := &fakeModel{replies: []Reply{TextReply("<div>first</div>"), TextReply("<div>second</div>")}}
	req := Request{Prompt: "write section 1"}

	first, err := g.Invoke(context.Background(), model, req)
	if err != nil {
		t.Fatalf("first Invoke: %v", err)
	}
	second, err := g.Invoke(context.Background(), model, req)
	if err != nil {
		t.Fatalf("second Invoke: %v", err)
	}
	if first != second {
		t.Errorf("replies differ: %q vs %q", first, second)
	}
	if model.calls != 1 {
		t.Errorf("transport calls = %d, want 1", model.calls)
	}
}

func TestInvoke_WithoutCacheAlwaysCallsModel(t *testing.T) {
	g, _ := newTestGateway(testConfig())
	model := &fakeModel{}
	req := Request{Prompt: "p"}
	for i := 0; i < 2; i++ {
		if _, err := g.Invoke(context.Background(), model, req, WithoutCache()); err != nil {
			t.Fatalf("Invoke: %v", err)
		}
	}
	if model.calls != 2 {
		t.Errorf("transport calls = %d, want 2", model.calls)
	}
}

func TestInvoke_EmptyReplyIsNotCached(t *testing.T) {
	g, _ := newTestGateway(testConfig())
	model := &fakeModel{replies: []Reply{EmptyReply("no candidates"), TextReply("now")}}
	req := Request{Prompt: "p"}

	text, err := g.Invoke(context.Background(), model, req)
	if err != nil || text != "" {
		t.Fatalf("Invoke = (%q, %v), want empty success", text, err)
	}
	text, err = g.Invoke(context.Background(), model, req)
	if err != nil || text != "now" {
		t.Fatalf("Invoke = (%q, %v), want %q", text, err, "now")
	}
	if model.calls != 2 {
		t.Errorf("transport calls = %d, want 2", model.calls)
	}
}

func TestInvoke_RetryBound(t *testing.T) {
	cfg := testConfig()
	g, clock := newTestGateway(cfg)
	transient := &TransientError{Code: "ResourceExhausted", Err: errors.New("quota")}
	model := &fakeModel{errs: []error{transient}}
	start := clock.now

	_, err := g.Invoke(context.Background(), model, Request{Prompt: "p"})

	var exhausted *RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want RetryExhaustedError", err)
	}
	if exhausted.Attempts != cfg.MaxRetries {
		t.Errorf("Attempts = %d, want %d", exhausted.Attempts, cfg.MaxRetries)
	}
	if model.calls != cfg.MaxRetries {
		t.Errorf("transport calls = %d, want %d", model.calls, cfg.MaxRetries)
	}
	if elapsed := clock.now.Sub(start); elapsed > cfg.Timeout {
		t.Errorf("elapsed %v exceeds timeout %v", elapsed, cfg.Timeout)
	}
	// pacing (0) then 1s, 2s, 4s, 8s
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, clock.sleeps[i], want[i])
		}
	}
}

func TestInvoke_RecoversAfterTransientErrors(t *testing.T) {
	g, _ := newTestGateway(testConfig())
	transient := &TransientError{Code: "Unavailable", Err: errors.New("503")}
	model := &fakeModel{errs: []error{transient, context.DeadlineExceeded, nil}}

	text, err := g.Invoke(context.Background(), model, Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "reply" || model.calls != 3 {
		t.Errorf("got (%q, %d calls), want (reply, 3 calls)", text, model.calls)
	}
}

func TestInvoke_NonRetriableFailsImmediately(t *testing.T) {
	tests := []struct {
		name  string
		model *fakeModel
		check func(error) bool
	}{
		{
			name:  "blocked error from transport",
			model: &fakeModel{errs: []error{&BlockedError{Reason: "permission denied"}}},
			check: IsBlocked,
		},
		{
			name:  "blocked reply",
			model: &fakeModel{replies: []Reply{BlockedReply("SAFETY")}},
			check: IsBlocked,
		},
		{
			name:  "malformed reply",
			model: &fakeModel{replies: []Reply{MalformedReply("nil candidate")}},
			check: func(err error) bool { return errors.Is(err, ErrMalformedReply) },
		},
		{
			name:  "general error",
			model: &fakeModel{errs: []error{errors.New("bad request")}},
			check: func(err error) bool { return err != nil && !IsRetriable(err) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, _ := newTestGateway(testConfig())
			_, err := g.Invoke(context.Background(), tt.model, Request{Prompt: "p"})
			if !tt.check(err) {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.model.calls != 1 {
				t.Errorf("transport calls = %d, want 1", tt.model.calls)
			}
		})
	}
}

func TestInvoke_TimeoutFailsFast(t *testing.T) {
	cfg := Config{MaxRetries: 10, Timeout: 10 * time.Second, BaseWait: 4 * time.Second}
	g, clock := newTestGateway(cfg)
	model := &fakeModel{errs: []error{&TransientError{Code: "Unavailable", Err: errors.New("503")}}}
	start := clock.now

	_, err := g.Invoke(context.Background(), model, Request{Prompt: "p"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	// attempt 1 at t=0, wait 4s, attempt 2 at t=4; an 8s wait would end past the deadline.
	if model.calls != 2 {
		t.Errorf("transport calls = %d, want 2", model.calls)
	}
	if elapsed := clock.now.Sub(start); elapsed > cfg.Timeout {
		t.Errorf("elapsed %v exceeds timeout %v", elapsed, cfg.Timeout)
	}
}

func TestInvoke_ParentCancellationStopsRetries(t *testing.T) {
	g, _ := newTestGateway(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &fakeModel{errs: []error{context.Canceled}}

	_, err := g.Invoke(ctx, model, Request{Prompt: "p"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if model.calls != 1 {
		t.Errorf("transport calls = %d, want 1", model.calls)
	}
}

func TestCacheKey_StableUnderKeyOrder(t *testing.T) {
	a := json.RawMessage(`{"prompt":"x","options":{"temperature":0.2,"top_k":40},"documents":[1,2]}`)
	b := json.RawMessage(`{"documents":[1,2],"options":{"top_k":40,"temperature":0.2},"prompt":"x"}`)

	ka, err := CacheKey("gemini", a)
	if err != nil {
		t.Fatalf("CacheKey: %v", err)
	}
	kb, err := CacheKey("gemini", b)
	if err != nil {
		t.Fatalf("CacheKey: %v", err)
	}
	if ka != kb {
		t.Errorf("keys differ for reordered payloads: %s vs %s", ka, kb)
	}

	other, _ := CacheKey("gpt", a)
	if other == ka {
		t.Error("different models produced the same key")
	}
	changed, _ := CacheKey("gemini", json.RawMessage(`{"prompt":"y","options":{"temperature":0.2,"top_k":40},"documents":[1,2]}`))
	if changed == ka {
		t.Error("different payloads produced the same key")
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&BlockedError{Reason: "SAFETY"}, "The request was blocked: SAFETY."},
		{&RetryExhaustedError{Attempts: 5}, "The model was unavailable after 5 attempts."},
		{ErrTimeout, "The request timed out."},
		{errors.New("boom"), "Unexpected error: boom"},
	}
	for _, tt := range tests {
		if got := Describe(tt.err); got != tt.want {
			t.Errorf("Describe(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
