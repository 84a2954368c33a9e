// Package agent contains the orchestrator: the iterative tool-calling
// execution loop and the control-signal protocol it speaks with the model.
package agent

import "strings"

// SignalKind classifies a model response after control decoding.
type SignalKind int

const (
	// SignalNormal is an ordinary final answer.
	SignalNormal SignalKind = iota
	// SignalClarification means the model needs input before proceeding.
	SignalClarification
	// SignalCapabilityForge requests that a new capability be created and
	// registered before the objective can continue.
	SignalCapabilityForge
	// SignalInterrupt means the current strategy is failing and the loop run
	// should end so a higher authority can replan.
	SignalInterrupt
)

func (k SignalKind) String() string {
	switch k {
	case SignalClarification:
		return "clarification"
	case SignalCapabilityForge:
		return "capability_forge"
	case SignalInterrupt:
		return "interrupt"
	default:
		return "normal"
	}
}

// Reserved control markers the model may embed in a response.
const (
	MarkerClarification = "[CLARIFICATION_REQUIRED]"
	MarkerForge         = "[CAPABILITY_FORGE]"
	MarkerInterrupt     = "[STRATEGIC_INTERRUPT_SIGNAL]"
)

// Signal is the decoded control intent of a response.
type Signal struct {
	Kind SignalKind
	// Payload is the marker-specific content: the full request for
	// clarification, the capability description for forge, and the cleaned
	// explanation for interrupt. Empty for normal responses.
	Payload string
	// Raw is the original undecoded text.
	Raw string
}

// DecodeSignal scans a raw model response for control markers.
// Priority-ordered and exclusive: clarification beats forge beats interrupt,
// first match wins, and text with no marker is a normal final answer.
func DecodeSignal(raw string) Signal {
	if strings.Contains(raw, MarkerClarification) {
		return Signal{Kind: SignalClarification, Payload: strings.TrimSpace(raw), Raw: raw}
	}
	if idx := strings.Index(raw, MarkerForge); idx >= 0 {
		payload := strings.TrimSpace(raw[idx+len(MarkerForge):])
		return Signal{Kind: SignalCapabilityForge, Payload: payload, Raw: raw}
	}
	if strings.Contains(raw, MarkerInterrupt) {
		payload := strings.TrimSpace(strings.ReplaceAll(raw, MarkerInterrupt, ""))
		return Signal{Kind: SignalInterrupt, Payload: payload, Raw: raw}
	}
	return Signal{Kind: SignalNormal, Raw: raw}
}
