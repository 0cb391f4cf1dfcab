package kv

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmstall/api/internal/platform/config"
	pfirestore "github.com/farmstall/api/internal/platform/firestore"
)

func TestFirestoreStoreAgainstEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "farmstall-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store, err := NewFirestoreStore(provider, "kv_test", WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	scoped, err := NewScoped(store, "devices/emulator")
	require.NoError(t, err)

	_, ok, err := scoped.Read(ctx, KeyCart)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, scoped.Write(ctx, KeyCart, json.RawMessage(`[{"name":"Apple","price":"15","quantity":2}]`)))
	raw, ok, err := scoped.Read(ctx, KeyCart)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"name":"Apple","price":"15","quantity":2}]`, string(raw))

	require.NoError(t, scoped.Remove(ctx, KeyCart))
	_, ok, err = scoped.Read(ctx, KeyCart)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDocumentIDEscapesSeparators(t *testing.T) {
	assert.Equal(t, "devices%2Fabc%2Fcart", documentID("devices/abc/cart"))
	assert.Equal(t, "orders", documentID(" orders "))
}
