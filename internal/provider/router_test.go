package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeBackend struct {
	name         string
	credentialed bool
	err          error
	calls        int
}

func (f *fakeBackend) Name() string       { return f.name }
func (f *fakeBackend) Credentialed() bool { return f.credentialed }

func (f *fakeBackend) Chat(ctx context.Context, req *Request) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Text: "from " + f.name, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func testRouter(primary ...Backend) *Router {
	return &Router{
		primary: primary,
		tracker: &TokenTracker{},
		log:     zerolog.Nop(),
	}
}

func TestCall_SkipsUncredentialed(t *testing.T) {
	a := &fakeBackend{name: "a"}
	b := &fakeBackend{name: "b", credentialed: true}
	r := testRouter(a, b)

	resp, err := r.Call(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Provider != "b" {
		t.Errorf("Provider = %q, want %q", resp.Provider, "b")
	}
	if a.calls != 0 {
		t.Errorf("uncredentialed backend was called %d times", a.calls)
	}
}

func TestCall_FailoverToNextCandidate(t *testing.T) {
	a := &fakeBackend{name: "a", credentialed: true, err: errors.New("rate limited")}
	b := &fakeBackend{name: "b", credentialed: true}
	r := testRouter(a, b)

	resp, err := r.Call(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Provider != "b" {
		t.Errorf("Provider = %q, want %q", resp.Provider, "b")
	}
	if a.calls != 1 {
		t.Errorf("first candidate called %d times, want 1", a.calls)
	}
}

func TestCall_SameRequestSelectsSameBackend(t *testing.T) {
	a := &fakeBackend{name: "a", credentialed: true}
	b := &fakeBackend{name: "b", credentialed: true}
	r := testRouter(a, b)

	for i := 0; i < 3; i++ {
		resp, err := r.Call(context.Background(), &Request{})
		if err != nil {
			t.Fatalf("Call() error = %v", err)
		}
		if resp.Provider != "a" {
			t.Errorf("call %d: Provider = %q, want %q", i, resp.Provider, "a")
		}
	}
}

func TestCall_Exhausted(t *testing.T) {
	a := &fakeBackend{name: "a", credentialed: true, err: errors.New("boom")}
	b := &fakeBackend{name: "b", credentialed: true, err: errors.New("bust")}
	r := testRouter(a, b)

	_, err := r.Call(context.Background(), &Request{})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 2 {
		t.Errorf("Attempts = %d, want 2", len(exhausted.Attempts))
	}
	if exhausted.Attempts[0].Provider != "a" || exhausted.Attempts[1].Provider != "b" {
		t.Errorf("attempt order = %q, %q", exhausted.Attempts[0].Provider, exhausted.Attempts[1].Provider)
	}
}

func TestCall_NoCredentialedBackends(t *testing.T) {
	r := testRouter(&fakeBackend{name: "a"})

	_, err := r.Call(context.Background(), &Request{})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %v, want *ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 0 {
		t.Errorf("Attempts = %d, want 0", len(exhausted.Attempts))
	}
}

func TestCall_ContextCancelledStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeBackend{name: "a", credentialed: true, err: context.Canceled}
	b := &fakeBackend{name: "b", credentialed: true}
	r := testRouter(a, b)

	cancel()
	_, err := r.Call(ctx, &Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if b.calls != 0 {
		t.Errorf("chain continued after cancellation, b called %d times", b.calls)
	}
}

func TestCall_TracksUsage(t *testing.T) {
	a := &fakeBackend{name: "a", credentialed: true}
	r := testRouter(a)

	for i := 0; i < 2; i++ {
		if _, err := r.Call(context.Background(), &Request{}); err != nil {
			t.Fatalf("Call() error = %v", err)
		}
	}

	in, out := r.Tracker().Total()
	if in != 20 || out != 10 {
		t.Errorf("Total() = (%d, %d), want (20, 10)", in, out)
	}
	if r.Tracker().Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", r.Tracker().Calls())
	}
}

func TestConsumable_PinsFirstCredentialed(t *testing.T) {
	a := &fakeBackend{name: "free-a", credentialed: true}
	b := &fakeBackend{name: "free-b", credentialed: true}
	r := testRouter()
	r.consumable = []Backend{a, b}

	fixed, err := r.Consumable()
	if err != nil {
		t.Fatalf("Consumable() error = %v", err)
	}
	if fixed.Name() != "free-a" {
		t.Errorf("Name() = %q, want %q", fixed.Name(), "free-a")
	}

	resp, err := fixed.Call(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if resp.Provider != "free-a" {
		t.Errorf("Provider = %q, want %q", resp.Provider, "free-a")
	}
}

func TestConsumable_NoneCredentialed(t *testing.T) {
	r := testRouter()
	r.consumable = []Backend{&fakeBackend{name: "a"}}

	if _, err := r.Consumable(); err == nil {
		t.Fatal("expected error when no consumable backend is credentialed")
	}
}

func TestFixed_NoFailover(t *testing.T) {
	a := &fakeBackend{name: "a", credentialed: true, err: errors.New("down")}
	fixed := &Fixed{backend: a}

	if _, err := fixed.Call(context.Background(), &Request{}); err == nil {
		t.Fatal("expected pinned backend failure to surface")
	}
}

func TestNewRouter_UnknownKind(t *testing.T) {
	_, err := NewRouter([]Registration{{Name: "x", Kind: "grpc"}}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for unknown provider kind")
	}
}

func TestNewRouter_PriorityOrdering(t *testing.T) {
	regs := []Registration{
		{Name: "second", Kind: KindOpenAI, APIKey: "k", Priority: 2},
		{Name: "first", Kind: KindOpenAI, APIKey: "k", Priority: 1},
	}
	r, err := NewRouter(regs, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	if len(r.primary) != 2 {
		t.Fatalf("primary chain size = %d, want 2", len(r.primary))
	}
	if r.primary[0].Name() != "first" {
		t.Errorf("primary[0] = %q, want %q", r.primary[0].Name(), "first")
	}
}
