package token

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/parlor/internal/reliability"
)

func TestFetcherReturnsPlainTextToken(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte("tok-123\n"))
	}))
	defer ts.Close()

	tok, err := NewFetcher(ts.URL+"/api/get-access-token", nil).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", tok)
}

func TestFetcherNon2xxIsFetchError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewFetcher(ts.URL, nil).Token(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "error = %v", err)
	var se *reliability.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.True(t, reliability.IsRetryable(err))
}

func TestFetcherNetworkErrorIsFetchError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := NewFetcher(url, nil).Token(context.Background())
	var fe *FetchError
	require.True(t, errors.As(err, &fe), "error = %v", err)
}

func TestFetcherEmptyBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	_, err := NewFetcher(ts.URL, nil).Token(context.Background())
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestIssuerExchangesAPIKey(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/streaming.create_token" || r.Header.Get("x-api-key") != "key-1" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":null,"data":{"token":"stream-tok"}}`))
	}))
	defer ts.Close()

	tok, err := NewIssuer("key-1", ts.URL+"/", nil).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stream-tok", tok)

	_, err = NewIssuer("other", ts.URL, nil).Token(context.Background())
	var se *reliability.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.Code)
}

func TestIssuerWithoutKey(t *testing.T) {
	i := NewIssuer("", "http://example.invalid", nil)
	assert.False(t, i.Configured())
	_, err := i.Token(context.Background())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSourceFunc(t *testing.T) {
	var src Source = SourceFunc(func(context.Context) (string, error) { return "x", nil })
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", tok)
}
