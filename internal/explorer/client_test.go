package explorer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/domain/model"
)

func TestClient_Paginate_StopsOnShortPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[{"tx_hash":"a","height":1,"time":1}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Millisecond)
	items, err := c.Paginate(context.Background(), "addr", 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestClient_Paginate_NotFoundIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Millisecond)
	items, err := c.Paginate(context.Background(), "addr", 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClient_Paginate_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Millisecond)
	_, err := c.Paginate(context.Background(), "addr", 0)
	require.ErrorIs(t, err, model.ErrRateLimited)
}

func TestClient_Paginate_TrimsToMaxTx(t *testing.T) {
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call++
		items := make([]map[string]any, pageSize)
		for i := range items {
			items[i] = map[string]any{"tx_hash": "tx", "height": 1, "time": 1}
		}
		if call == 1 {
			w.Write([]byte(`{"result":` + mustJSON(items) + `,"nextPageToken":"next"}`))
		} else {
			w.Write([]byte(`{"result":[]}`))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Millisecond)
	items, err := c.Paginate(context.Background(), "addr", 10)
	require.NoError(t, err)
	assert.Len(t, items, 10)
}

func TestClient_SendsAPIKeyHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "my-key", time.Millisecond)
	_, err := c.Paginate(context.Background(), "addr", 0)
	require.NoError(t, err)
	assert.Equal(t, "my-key", gotAuth)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
