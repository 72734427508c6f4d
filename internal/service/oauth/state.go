package oauth

import "encoding/json"

// FlowKind selects how the callback completes in the browser.
type FlowKind string

const (
	// FlowPopup finishes with a self-closing page that posts the result to
	// the opener window.
	FlowPopup FlowKind = "popup"
	// FlowRedirect finishes with a 302 back to the builder.
	FlowRedirect FlowKind = "redirect"
)

// FlowState is the value round-tripped through the OAuth state parameter.
// It carries presentation intent only; it is never persisted server side.
type FlowState struct {
	Kind   FlowKind `json:"type"`
	FormID string   `json:"formId,omitempty"`
}

// EncodeState serializes the state for the authorization URL.
func EncodeState(state FlowState) string {
	raw, err := json.Marshal(state)
	if err != nil {
		return string(state.Kind)
	}
	return string(raw)
}

// DecodeState parses a state value from the provider callback. Older
// builder versions sent a bare "popup" or "redirect" string, so anything
// that is not valid JSON falls back to that reading. Unknown or missing
// kinds normalize to redirect, which degrades to a visible builder flag
// rather than a stuck popup.
func DecodeState(raw string) FlowState {
	var state FlowState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		if raw == string(FlowPopup) {
			return FlowState{Kind: FlowPopup}
		}
		return FlowState{Kind: FlowRedirect}
	}
	if state.Kind != FlowPopup {
		state.Kind = FlowRedirect
	}
	return state
}
