package configstore_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/ocpp-sim/chargepoint-simulator/internal/configstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreSave(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := &configstore.RedisStore{Client: db}
	ctx := context.Background()

	kv := configstore.KeyValue{Key: "HeartbeatInterval", Value: "300"}
	data, err := json.Marshal(kv)
	require.NoError(t, err)

	mock.ExpectHSet("cpsim:config:CP1", "HeartbeatInterval", data).SetVal(1)
	mock.ExpectPublish("cpsim:config:changes:CP1", data).SetVal(1)

	require.NoError(t, r.Save(ctx, "CP1", kv))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreLoad(t *testing.T) {
	db, mock := redismock.NewClientMock()
	r := &configstore.RedisStore{Client: db}
	ctx := context.Background()

	kv := configstore.KeyValue{Key: "HeartbeatInterval", Value: "300"}
	data, _ := json.Marshal(kv)
	mock.ExpectHGetAll("cpsim:config:CP1").SetVal(map[string]string{"HeartbeatInterval": string(data)})

	got, err := r.Load(ctx, "CP1")
	require.NoError(t, err)
	require.Equal(t, "300", got["HeartbeatInterval"].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStoreClose(t *testing.T) {
	db, _ := redismock.NewClientMock()
	r := &configstore.RedisStore{Client: db}
	require.NoError(t, r.Close())
}
