package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Router selects and calls backends with transparent failover.
//
// Selection within a tier is deterministic: registrations are ordered by
// Priority (ties broken by registration order), backends without credentials
// are skipped, and a failed call is retried against the next candidate.
// Only total exhaustion surfaces to the caller.
type Router struct {
	primary    []Backend
	consumable []Backend
	tracker    *TokenTracker
	log        zerolog.Logger
}

// NewRouter builds a Router from registrations. Backend construction is
// infallible for known kinds; unknown kinds are an error so a typo in config
// fails loudly at startup rather than silently shrinking the chain.
func NewRouter(regs []Registration, log zerolog.Logger) (*Router, error) {
	r := &Router{
		tracker: &TokenTracker{},
		log:     log,
	}

	// Stable sort keeps registration order for equal priorities, so the
	// chain is fully determined by configuration.
	ordered := make([]Registration, len(regs))
	copy(ordered, regs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	for _, reg := range ordered {
		backend, err := newBackend(reg)
		if err != nil {
			return nil, fmt.Errorf("register provider %q: %w", reg.Name, err)
		}
		switch reg.Tier {
		case TierConsumable:
			r.consumable = append(r.consumable, backend)
		default:
			r.primary = append(r.primary, backend)
		}
	}

	return r, nil
}

func newBackend(reg Registration) (Backend, error) {
	switch reg.Kind {
	case KindAnthropic:
		return newAnthropicBackend(reg)
	case KindOpenAI:
		return newOpenAIBackend(reg), nil
	case KindOllama:
		return newOllamaBackend(reg)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", reg.Kind)
	}
}

// Call walks the primary tier in priority order, skipping backends without
// credentials, and retries the same request on the next candidate after any
// failure. It returns the first successful response, or *ExhaustedError.
func (r *Router) Call(ctx context.Context, req *Request) (*Response, error) {
	return r.callChain(ctx, r.primary, req)
}

func (r *Router) callChain(ctx context.Context, chain []Backend, req *Request) (*Response, error) {
	var attempts []Attempt

	for _, backend := range chain {
		if !backend.Credentialed() {
			r.log.Debug().Str("provider", backend.Name()).Msg("skipping provider without credentials")
			continue
		}
		resp, err := backend.Chat(ctx, req)
		if err != nil {
			// Context cancellation is the caller's decision, not a
			// provider fault; do not burn the rest of the chain on it.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn().Str("provider", backend.Name()).Err(err).Msg("provider call failed, trying next candidate")
			attempts = append(attempts, Attempt{Provider: backend.Name(), Err: err})
			continue
		}
		resp.Provider = backend.Name()
		r.tracker.Add(resp.Usage)
		return resp, nil
	}

	return nil, &ExhaustedError{Attempts: attempts}
}

// Consumable returns a pinned Caller backed by the first credentialed
// backend in the consumable tier. Sub-task delegation uses this to bound
// cost independently of the primary chain.
func (r *Router) Consumable() (*Fixed, error) {
	for _, backend := range r.consumable {
		if backend.Credentialed() {
			return &Fixed{backend: backend, tracker: r.tracker}, nil
		}
	}
	return nil, fmt.Errorf("no credentialed provider in consumable tier")
}

// Tracker returns the shared token tracker.
func (r *Router) Tracker() *TokenTracker {
	return r.tracker
}

// Fixed is a Caller pinned to a single backend, with no failover.
type Fixed struct {
	backend Backend
	tracker *TokenTracker
}

// Call performs one model call against the pinned backend.
func (f *Fixed) Call(ctx context.Context, req *Request) (*Response, error) {
	resp, err := f.backend.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", f.backend.Name(), err)
	}
	resp.Provider = f.backend.Name()
	if f.tracker != nil {
		f.tracker.Add(resp.Usage)
	}
	return resp, nil
}

// Name returns the pinned backend's name.
func (f *Fixed) Name() string {
	return f.backend.Name()
}
