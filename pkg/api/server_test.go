package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/httpmockd/httpmockd/pkg/logging"
	"github.com/httpmockd/httpmockd/pkg/mock"
	"github.com/httpmockd/httpmockd/pkg/requestlog"
	"github.com/httpmockd/httpmockd/pkg/state"
)

func newTestServer(t *testing.T) (*state.Manager, *httptest.Server) {
	t.Helper()
	mgr := state.NewManager(20)
	srv := NewServer(mgr, "127.0.0.1:0", logging.Nop())
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return mgr, ts
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestCreateAndListMocks(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/__httpmock__/mocks", mock.MockSpec{
		When: mock.WhenSpec{Path: "/foo"},
		Then: mock.ThenSpec{Status: 200, Body: "ok"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created MockResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, int64(1), created.ID)

	resp = doJSON(t, http.MethodGet, ts.URL+"/__httpmock__/mocks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list MockListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
}

func TestCreateMockValidationError(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/__httpmock__/mocks", mock.MockSpec{
		When: mock.WhenSpec{Path: "/bad"},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteMockNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doJSON(t, http.MethodDelete, ts.URL+"/__httpmock__/mocks/999", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestVerifyReturnsClosestMatch(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Method: "GET", Path: "/items"},
		Then: mock.ThenSpec{Status: 200, Body: "ok"},
	})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, ts.URL+"/__httpmock__/verify", VerifyRequest{
		Method: "GET", Path: "/items/42",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v VerifyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	require.False(t, v.Matched)
	require.NotEmpty(t, v.Breakdown)
}

func TestVerifyReturnsNoContentOnExactMatch(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Method: "GET", Path: "/items"},
		Then: mock.ThenSpec{Status: 200, Body: "ok"},
	})
	require.NoError(t, err)

	resp := doJSON(t, http.MethodPost, ts.URL+"/__httpmock__/verify", VerifyRequest{
		Method: "GET", Path: "/items",
	})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestResetClearsMocksAndHistory(t *testing.T) {
	mgr, ts := newTestServer(t)
	_, err := mgr.CreateMock(mock.MockSpec{
		When: mock.WhenSpec{Path: "/x"},
		Then: mock.ThenSpec{Status: 200},
	})
	require.NoError(t, err)
	mgr.AppendHistory(requestlog.Entry{ID: "h1", Method: "GET", Path: "/x"})
	require.Len(t, mgr.History(), 1)

	resp := doJSON(t, http.MethodPost, ts.URL+"/__httpmock__/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, mgr.ListMocks())
	require.Empty(t, mgr.History())
}
