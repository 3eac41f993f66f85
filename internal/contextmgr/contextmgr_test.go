package contextmgr

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryAssemblesAllProviders(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddStateProvider("SessionState", ProviderFunc(func(context.Context, string) (json.RawMessage, error) {
		return json.RawMessage(`{"agent":"test"}`), nil
	}))
	r.AddStateProvider("PlaybackState", ProviderFunc(func(context.Context, string) (json.RawMessage, error) {
		return json.RawMessage(`{"players":[]}`), nil
	}))

	snap, err := r.GetContext(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Len(t, snap.Namespaces, 2)
	require.JSONEq(t, `{"agent":"test"}`, string(snap.Namespaces["SessionState"]))
	require.Empty(t, snap.Errors)
}

func TestRegistryCollectsPerProviderErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddStateProvider("Broken", ProviderFunc(func(context.Context, string) (json.RawMessage, error) {
		return nil, errors.New("boom")
	}))

	snap, err := r.GetContext(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Empty(t, snap.Namespaces)
	require.Error(t, snap.Errors["Broken"])
}

func TestRegistryRemoveStateProvider(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.AddStateProvider("SessionState", ProviderFunc(func(context.Context, string) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}))
	r.RemoveStateProvider("SessionState")

	snap, err := r.GetContext(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Empty(t, snap.Namespaces)
}
