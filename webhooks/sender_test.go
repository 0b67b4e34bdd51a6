package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	got, err := Canonicalize([]byte(`{ "b": 1, "a": {"z": "<x>", "y": 12345678901234567890} }`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":12345678901234567890,"z":"<x>"},"b":1}`, string(got))

	_, err = Canonicalize([]byte(`{`))
	assert.Error(t, err)
}

func TestSender_SignsExactBody(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"authorization.used"}`)

	var gotBody []byte
	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	sender := CreateSender(server.Client())
	result, err := sender.Send(context.Background(), Delivery{
		URL:     server.URL,
		Secret:  "whsec_test",
		EventID: "evt_1",
		Payload: payload,
		Timeout: time.Second,
	})

	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, result.StatusCode)
	assert.Equal(t, payload, gotBody)
	assert.True(t, security.Verify("whsec_test", gotBody, gotHeaders.Get(security.HeaderSignature)))
	assert.Equal(t, "evt_1", gotHeaders.Get(security.HeaderWebhookID))
	assert.NotEmpty(t, gotHeaders.Get(security.HeaderTimestamp))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
}

func TestSender_Non2xx(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			w.Write([]byte("nope"))
		}))

		result, err := CreateSender(server.Client()).Send(context.Background(), Delivery{URL: server.URL, Payload: []byte(`{}`)})
		server.Close()

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, code, statusErr.StatusCode)
		assert.Equal(t, code, result.StatusCode)
		assert.Contains(t, err.Error(), "nope")
	}
}

func TestSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	start := time.Now()
	result, err := CreateSender(server.Client()).Send(context.Background(), Delivery{
		URL:     server.URL,
		Payload: []byte(`{}`),
		Timeout: 50 * time.Millisecond,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Zero(t, result.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSender_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	result, err := CreateSender(nil).Send(context.Background(), Delivery{URL: url, Payload: []byte(`{}`), Timeout: time.Second})
	assert.Error(t, err)
	assert.Zero(t, result.StatusCode)
}
