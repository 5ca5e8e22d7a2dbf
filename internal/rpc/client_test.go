package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

func TestClient_GetBlockCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		w.Write([]byte(`{"id":1,"result":100142,"error":null}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "secret")
	height, err := c.GetBlockCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100142), height)
}

func TestClient_GetRawTransaction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"result":{"hex":"deadbeef","blockhash":"abc","blockheight":100000,"blocktime":123,"confirmations":5},"error":null}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "secret")
	tx, err := c.GetRawTransaction(context.Background(), "txid")
	require.NoError(t, err)
	assert.Equal(t, "abc", tx.BlockHash)
	assert.Equal(t, int64(5), tx.Confirmations)
}

func TestClient_RpcApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":1,"result":null,"error":{"code":-5,"message":"No such mempool or blockchain transaction"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "secret")
	_, err := c.GetRawTransaction(context.Background(), "missing")
	require.Error(t, err)
	var rpcErr *model.RpcError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -5, rpcErr.Code)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`{"id":1,"result":0,"error":null}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "secret", WithCallTimeout(5*time.Millisecond))
	_, err := c.GetBlockCount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRpcTimeout)
}

func TestClient_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "alice", "wrong")
	_, err := c.GetBlockCount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRpcUnavailable)
}
