package configstore_test

import (
	"context"
	"testing"

	"github.com/ocpp-sim/chargepoint-simulator/internal/configstore"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreLoadSave(t *testing.T) {
	s := configstore.NewMemoryStore()
	ctx := context.Background()

	got, err := s.Load(ctx, "CP1")
	require.NoError(t, err)
	require.Empty(t, got)

	require.NoError(t, s.Save(ctx, "CP1", configstore.KeyValue{Key: "HeartbeatInterval", Value: "300"}))

	got, err = s.Load(ctx, "CP1")
	require.NoError(t, err)
	require.Equal(t, "300", got["HeartbeatInterval"].Value)

	// A second charge point's keys are isolated.
	other, err := s.Load(ctx, "CP2")
	require.NoError(t, err)
	require.Empty(t, other)
}

func TestMemoryStoreWatchNotifiesAndUnsubscribes(t *testing.T) {
	s := configstore.NewMemoryStore()
	ctx := context.Background()

	var received []configstore.KeyValue
	unsub := s.Watch("CP1", func(kv configstore.KeyValue) {
		received = append(received, kv)
	})

	require.NoError(t, s.Save(ctx, "CP1", configstore.KeyValue{Key: "A", Value: "1"}))
	require.Len(t, received, 1)

	unsub()
	require.NoError(t, s.Save(ctx, "CP1", configstore.KeyValue{Key: "A", Value: "2"}))
	require.Len(t, received, 1, "watcher should not fire after unsubscribe")
}

func TestMemoryStoreClose(t *testing.T) {
	s := configstore.NewMemoryStore()
	require.NoError(t, s.Close())
}
