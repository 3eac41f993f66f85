// Package events builds the inbound directive envelope and the outbound
// event envelopes the core pipeline emits, matching the AVS wire format
// described in original_source's AVSCommon/AVS/src/MessageRequest.cpp and
// JSONUtils.h/.cpp without depending on any particular transport encoding
// beyond the standard library's encoding/json — the parent specification
// lists JSON parsing itself as an external, interface-only concern (see
// SPEC_FULL.md §6), so no third-party JSON library is introduced.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/emberline/avscore/pkg/avs"
)

// Header is the common inbound/outbound envelope header.
type Header struct {
	Namespace             string `json:"namespace"`
	Name                  string `json:"name"`
	MessageID             string `json:"messageId"`
	DialogRequestID       string `json:"dialogRequestId,omitempty"`
	CorrelationToken      string `json:"correlationToken,omitempty"`
	EventCorrelationToken string `json:"eventCorrelationToken,omitempty"`
	PayloadVersion        string `json:"payloadVersion,omitempty"`
	Instance              string `json:"instance,omitempty"`
}

// InboundEnvelope is the wire shape of a single directive.
type InboundEnvelope struct {
	Directive struct {
		Header  Header          `json:"header"`
		Payload json.RawMessage `json:"payload"`
	} `json:"directive"`
}

// ParseDirective decodes raw into an avs.Directive. It fails only at the
// envelope level — missing namespace, name, or messageId — per spec §4.1's
// onDirective contract; payload contents are left opaque.
func ParseDirective(raw []byte) (avs.Directive, error) {
	var env InboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return avs.Directive{}, fmt.Errorf("events: decode directive envelope: %w", err)
	}
	h := env.Directive.Header
	if h.Namespace == "" || h.Name == "" || h.MessageID == "" {
		return avs.Directive{}, fmt.Errorf("events: malformed directive envelope: missing namespace/name/messageId")
	}
	return avs.Directive{
		Namespace:       h.Namespace,
		Name:            h.Name,
		MessageID:       h.MessageID,
		DialogRequestID: h.DialogRequestID,
		Payload:         env.Directive.Payload,
	}, nil
}

// OutboundEnvelope is the wire shape of a single emitted event.
type OutboundEnvelope struct {
	Event struct {
		Header  Header          `json:"header"`
		Payload json.RawMessage `json:"payload"`
	} `json:"event"`
	Context json.RawMessage `json:"context,omitempty"`
}

// Marshal serializes an outbound event envelope.
func Marshal(namespace, name, messageID, dialogRequestID string, payload, context json.RawMessage) ([]byte, error) {
	var env OutboundEnvelope
	env.Event.Header = Header{
		Namespace:       namespace,
		Name:            name,
		MessageID:       messageID,
		DialogRequestID: dialogRequestID,
	}
	env.Event.Payload = payload
	env.Context = context

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s.%s: %w", namespace, name, err)
	}
	return out, nil
}

// LookupStringValue mirrors the original JSONUtils::lookupStringValue
// behavior noted in spec.md §9's second open question: when key maps to a
// JSON object (or array) rather than a scalar string, it returns true with
// the object re-serialized as the string value, instead of failing the
// lookup. Implementers relying on this for a genuinely scalar field should
// check the returned string isn't itself JSON.
func LookupStringValue(obj json.RawMessage, key string) (string, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(obj, &m); err != nil {
		return "", false
	}
	raw, ok := m[key]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	// Not a scalar string: re-serialize the object/array verbatim.
	return string(raw), true
}
