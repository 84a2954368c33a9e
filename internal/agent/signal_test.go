package agent

import "testing"

func TestDecodeSignal(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		wantKind    SignalKind
		wantPayload string
	}{
		{
			name:     "plain answer",
			raw:      "The deployment finished successfully.",
			wantKind: SignalNormal,
		},
		{
			name:        "clarification",
			raw:         "[CLARIFICATION_REQUIRED] Which environment should I target?",
			wantKind:    SignalClarification,
			wantPayload: "[CLARIFICATION_REQUIRED] Which environment should I target?",
		},
		{
			name:        "clarification mid-text",
			raw:         "I cannot proceed. [CLARIFICATION_REQUIRED] staging or production?",
			wantKind:    SignalClarification,
			wantPayload: "I cannot proceed. [CLARIFICATION_REQUIRED] staging or production?",
		},
		{
			name:        "capability forge extracts trailing intent",
			raw:         "Missing a parser. [CAPABILITY_FORGE] build a csv_summarize tool",
			wantKind:    SignalCapabilityForge,
			wantPayload: "build a csv_summarize tool",
		},
		{
			name:        "interrupt strips marker",
			raw:         "[STRATEGIC_INTERRUPT_SIGNAL] Caught in a loop, requesting a new strategy.",
			wantKind:    SignalInterrupt,
			wantPayload: "Caught in a loop, requesting a new strategy.",
		},
		{
			name:        "interrupt marker embedded",
			raw:         "Stopping now. [STRATEGIC_INTERRUPT_SIGNAL] Same failure five times.",
			wantKind:    SignalInterrupt,
			wantPayload: "Stopping now.  Same failure five times.",
		},
		{
			name:        "clarification wins over forge",
			raw:         "[CLARIFICATION_REQUIRED] also [CAPABILITY_FORGE] something",
			wantKind:    SignalClarification,
			wantPayload: "[CLARIFICATION_REQUIRED] also [CAPABILITY_FORGE] something",
		},
		{
			name:        "forge wins over interrupt",
			raw:         "[CAPABILITY_FORGE] new tool [STRATEGIC_INTERRUPT_SIGNAL]",
			wantKind:    SignalCapabilityForge,
			wantPayload: "new tool [STRATEGIC_INTERRUPT_SIGNAL]",
		},
		{
			name:     "empty text is normal",
			raw:      "",
			wantKind: SignalNormal,
		},
		{
			name:     "similar but unreserved bracket text is normal",
			raw:      "[INFO] all checks passed",
			wantKind: SignalNormal,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecodeSignal(tc.raw)
			if got.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", got.Kind, tc.wantKind)
			}
			if got.Payload != tc.wantPayload {
				t.Errorf("Payload = %q, want %q", got.Payload, tc.wantPayload)
			}
			if got.Raw != tc.raw {
				t.Errorf("Raw = %q, want original text preserved", got.Raw)
			}
		})
	}
}

func TestSignalKind_String(t *testing.T) {
	cases := map[SignalKind]string{
		SignalNormal:          "normal",
		SignalClarification:   "clarification",
		SignalCapabilityForge: "capability_forge",
		SignalInterrupt:       "interrupt",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", kind, got, want)
		}
	}
}
