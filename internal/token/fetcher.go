package token

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/parlor/internal/reliability"
)

// Fetcher obtains tokens from a remote `POST /api/get-access-token`
// endpoint that answers with the token as plain text.
type Fetcher struct {
	endpoint string
	client   *http.Client
}

func NewFetcher(endpoint string, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (f *Fetcher) Token(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, nil)
	if err != nil {
		return "", &FetchError{Endpoint: f.endpoint, Err: err}
	}
	res, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{Endpoint: f.endpoint, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", &FetchError{Endpoint: f.endpoint, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &FetchError{
			Endpoint: f.endpoint,
			Err:      &reliability.StatusError{Service: "token", Code: res.StatusCode, Body: string(body)},
		}
	}
	tok := strings.TrimSpace(string(body))
	if tok == "" {
		return "", &FetchError{Endpoint: f.endpoint, Err: ErrEmptyToken}
	}
	return tok, nil
}
