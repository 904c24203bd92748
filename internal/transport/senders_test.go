package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeaconPostsPlainText(t *testing.T) {
	var gotContentType string
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	b := NewBeacon(srv.Client())
	require.NoError(t, b.Send(context.Background(), srv.URL, Payload{Event: "page_view", EventID: "e1"}))
	assert.Equal(t, "text/plain;charset=UTF-8", gotContentType)
	assert.Equal(t, "page_view", got.Event)
}

func TestFetchPostsJSONAndChecksStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetch(srv.Client())
	err := f.Send(context.Background(), srv.URL, Payload{Event: "page_view"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestPixelEncodesPayloadInQuery(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		raw, err := base64.StdEncoding.DecodeString(r.URL.Query().Get("data"))
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &got))
	}))
	defer srv.Close()

	px := NewPixel(srv.Client())
	require.NoError(t, px.Send(context.Background(), srv.URL+"/c?container_id=CT-1", Payload{Event: "purchase", EventID: "e2"}))
	assert.Equal(t, "purchase", got.Event)
	assert.Equal(t, "e2", got.EventID)
}
