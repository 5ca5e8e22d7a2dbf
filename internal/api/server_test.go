package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bsv-blockchain/bsv-address-tracker/internal/addressindex"
	"github.com/bsv-blockchain/bsv-address-tracker/internal/store/memstore"
)

func newTestServer(cfg Config) (*Server, *httptest.Server) {
	membership := addressindex.New()
	s := New(
		memstore.NewWatchedAddressStore(),
		memstore.NewActiveTransactionStore(),
		memstore.NewArchivedTransactionStore(),
		memstore.NewWebhookStore(),
		membership,
		nil, nil,
		cfg, nil,
	)
	return s, httptest.NewServer(s.Handler())
}

func TestServer_Health_NoAuthRequired(t *testing.T) {
	_, srv := newTestServer(Config{RequireKey: true, APIKey: "secret"})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

const testAddress = "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"

func TestServer_RegisterAddress_RequiresAPIKeyWhenEnabled(t *testing.T) {
	_, srv := newTestServer(Config{RequireKey: true, APIKey: "secret"})
	defer srv.Close()

	body, _ := json.Marshal(registerAddressesRequest{Addresses: []string{testAddress}})
	resp, err := http.Post(srv.URL+"/addresses", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RegisterAddress_SucceedsWithValidKey(t *testing.T) {
	_, srv := newTestServer(Config{RequireKey: true, APIKey: "secret"})
	defer srv.Close()

	body, _ := json.Marshal(registerAddressesRequest{Addresses: []string{testAddress}})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/addresses", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "secret")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got registerAddressesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 1, got.Added)
	require.Len(t, got.Results, 1)
	assert.Equal(t, outcomeAdded, got.Results[0].Status)
}

func TestServer_RegisterAddress_MissingAddressesIsBadRequest(t *testing.T) {
	_, srv := newTestServer(Config{})
	defer srv.Close()

	body, _ := json.Marshal(registerAddressesRequest{})
	resp, err := http.Post(srv.URL+"/addresses", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RegisterAddress_InvalidAddressIsClassified(t *testing.T) {
	_, srv := newTestServer(Config{})
	defer srv.Close()

	body, _ := json.Marshal(registerAddressesRequest{Addresses: []string{"not-a-valid-address"}})
	resp, err := http.Post(srv.URL+"/addresses", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got registerAddressesResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 1, got.Invalid)
	assert.Equal(t, outcomeInvalid, got.Results[0].Status)
}

func TestServer_RegisterAddress_ExistingWithoutForceMakesNoMutation(t *testing.T) {
	_, srv := newTestServer(Config{})
	defer srv.Close()

	body, _ := json.Marshal(registerAddressesRequest{Addresses: []string{testAddress}})
	resp, err := http.Post(srv.URL+"/addresses", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	resp2, err := http.Post(srv.URL+"/addresses", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp2.Body.Close()

	var got registerAddressesResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&got))
	assert.Equal(t, len(got.Results), got.AlreadyExisted)
	assert.Equal(t, outcomeAlreadyExist, got.Results[0].Status)
}

func TestServer_RegisterAddress_ExistingWithForceIsRefetched(t *testing.T) {
	_, srv := newTestServer(Config{})
	defer srv.Close()

	body, _ := json.Marshal(registerAddressesRequest{Addresses: []string{testAddress}})
	resp, err := http.Post(srv.URL+"/addresses", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()

	forceBody, _ := json.Marshal(registerAddressesRequest{Addresses: []string{testAddress}, Force: true})
	resp2, err := http.Post(srv.URL+"/addresses", "application/json", bytes.NewReader(forceBody))
	require.NoError(t, err)
	defer resp2.Body.Close()

	var got registerAddressesResponse
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&got))
	assert.Equal(t, 1, got.ForcedRefetch)
	assert.Equal(t, outcomeForcedRefetch, got.Results[0].Status)
}

func TestServer_GetAddress_NotFoundReturns404(t *testing.T) {
	_, srv := newTestServer(Config{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/addresses/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_CreateWebhook_RequiresAddressesOrMonitorAll(t *testing.T) {
	_, srv := newTestServer(Config{})
	defer srv.Close()

	body, _ := json.Marshal(webhookRequest{URL: "https://example.test/hook"})
	resp, err := http.Post(srv.URL+"/webhooks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_CreateWebhook_Succeeds(t *testing.T) {
	_, srv := newTestServer(Config{})
	defer srv.Close()

	body, _ := json.Marshal(webhookRequest{URL: "https://example.test/hook", MonitorAll: true})
	resp, err := http.Post(srv.URL+"/webhooks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestServer_TriggerConfirmations_UnavailableWithoutSweeper(t *testing.T) {
	_, srv := newTestServer(Config{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/trigger/confirmations", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
