package app

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberline/avscore/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogLevelInfo},
		Device: config.DeviceConfig{Agent: "avscore-test", SPIVersion: "2.0"},
		Capability: config.CapabilityConfig{
			ExpectSpeechDefaultTimeout: time.Second,
			EnabledNamespaces:          []string{"SpeechRecognizer", "ExternalMediaPlayer"},
		},
		Players: []config.PlayerConfig{
			{LocalPlayerID: "local-spotify", Name: "spotify-local"},
		},
	}
}

func directiveEnvelope(namespace, name, messageID, dialogRequestID string) []byte {
	type header struct {
		Namespace       string `json:"namespace"`
		Name            string `json:"name"`
		MessageID       string `json:"messageId"`
		DialogRequestID string `json:"dialogRequestId,omitempty"`
	}
	env := struct {
		Directive struct {
			Header  header          `json:"header"`
			Payload json.RawMessage `json:"payload"`
		} `json:"directive"`
	}{}
	env.Directive.Header = header{Namespace: namespace, Name: name, MessageID: messageID, DialogRequestID: dialogRequestID}
	env.Directive.Payload = json.RawMessage(`{}`)
	out, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}
	return out
}

func TestAppBuildsAndShutsDown(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig())
	require.NoError(t, err)
	require.NotNil(t, a.sequencer)
	require.NotNil(t, a.aip)
	require.NotNil(t, a.emp)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(shutdownCtx))
}

func TestAppRoutesDirectiveToEMP(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	raw := directiveEnvelope("ExternalMediaPlayer", "AuthorizeDiscoveredPlayers", "msg-1", "")
	require.True(t, a.OnDirectiveJSON(raw))
}

func TestAppRejectsMalformedDirective(t *testing.T) {
	a, err := New(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})

	require.False(t, a.OnDirectiveJSON([]byte(`not json`)))
}
