package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/parlor/internal/reliability"
)

// Issuer exchanges the service API key for a streaming token. It backs the
// local `/api/get-access-token` endpoint and can serve as a Source directly.
type Issuer struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewIssuer(apiKey, baseURL string, client *http.Client) *Issuer {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Issuer{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
	}
}

func (i *Issuer) Configured() bool {
	return i != nil && i.apiKey != ""
}

type createTokenResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
	Error json.RawMessage `json:"error"`
}

func (i *Issuer) Token(ctx context.Context) (string, error) {
	endpoint := i.baseURL + "/v1/streaming.create_token"
	if !i.Configured() {
		return "", &FetchError{Endpoint: endpoint, Err: ErrMissingAPIKey}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", &FetchError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("x-api-key", i.apiKey)

	res, err := i.client.Do(req)
	if err != nil {
		return "", &FetchError{Endpoint: endpoint, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return "", &FetchError{Endpoint: endpoint, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &FetchError{
			Endpoint: endpoint,
			Err:      &reliability.StatusError{Service: "avatar", Code: res.StatusCode, Body: string(body)},
		}
	}

	var parsed createTokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &FetchError{Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	tok := strings.TrimSpace(parsed.Data.Token)
	if tok == "" {
		return "", &FetchError{Endpoint: endpoint, Err: ErrEmptyToken}
	}
	return tok, nil
}
