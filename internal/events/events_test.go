package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirectiveHappyPath(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"directive":{"header":{"namespace":"Speaker","name":"SetMute","messageId":"m1","dialogRequestId":"d1"},"payload":{"mute":true}}}`)
	d, err := ParseDirective(raw)
	require.NoError(t, err)
	assert.Equal(t, "Speaker", d.Namespace)
	assert.Equal(t, "SetMute", d.Name)
	assert.Equal(t, "m1", d.MessageID)
	assert.Equal(t, "d1", d.DialogRequestID)
	assert.JSONEq(t, `{"mute":true}`, string(d.Payload))
}

func TestParseDirectiveMissingFieldsFails(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"directive":{"header":{"name":"SetMute","messageId":"m1"},"payload":{}}}`,
		`{"directive":{"header":{"namespace":"Speaker","messageId":"m1"},"payload":{}}}`,
		`{"directive":{"header":{"namespace":"Speaker","name":"SetMute"},"payload":{}}}`,
	}
	for _, raw := range cases {
		_, err := ParseDirective([]byte(raw))
		assert.Error(t, err)
	}
}

func TestMarshalOutboundEnvelope(t *testing.T) {
	t.Parallel()

	out, err := Marshal("System", "ExceptionEncountered", "m2", "", json.RawMessage(`{"error":"INTERNAL_ERROR"}`), nil)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"namespace":"System"`)
	assert.Contains(t, string(out), `"error":"INTERNAL_ERROR"`)
}

func TestLookupStringValueScalar(t *testing.T) {
	t.Parallel()

	v, ok := LookupStringValue(json.RawMessage(`{"playerId":"P1"}`), "playerId")
	require.True(t, ok)
	assert.Equal(t, "P1", v)
}

func TestLookupStringValueObjectRoundTrips(t *testing.T) {
	t.Parallel()

	v, ok := LookupStringValue(json.RawMessage(`{"metadata":{"playerId":"P1","skillToken":"T1"}}`), "metadata")
	require.True(t, ok)
	assert.JSONEq(t, `{"playerId":"P1","skillToken":"T1"}`, v)
}

func TestLookupStringValueMissingKey(t *testing.T) {
	t.Parallel()

	_, ok := LookupStringValue(json.RawMessage(`{}`), "missing")
	assert.False(t, ok)
}
