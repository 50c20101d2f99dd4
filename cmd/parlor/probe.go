package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/parlor/internal/avatar"
	"github.com/ent0n29/parlor/internal/protocol"
	"github.com/ent0n29/parlor/internal/session"
)

type probeOptions struct {
	baseURL     string
	turns       int
	texts       []string
	turnTimeout time.Duration
	startDelay  time.Duration
	interTurn   time.Duration
	verbose     bool
}

type wsEnvelope struct {
	Type    string `json:"type"`
	Event   string `json:"event,omitempty"`
	State   string `json:"state,omitempty"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Message string `json:"message,omitempty"`
}

var defaultProbeTexts = []string{
	"Say hello in three words.",
	"Name one color.",
	"Count to three.",
}

func newProbeCmd() *cobra.Command {
	var (
		opts     probeOptions
		textsRaw string
	)
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Open a session against a running gateway and time avatar replies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.baseURL = strings.TrimRight(strings.TrimSpace(opts.baseURL), "/")
			if opts.baseURL == "" {
				return fmt.Errorf("base-url is required")
			}
			if opts.turns <= 0 {
				return fmt.Errorf("turns must be > 0")
			}
			if opts.turnTimeout < time.Second {
				opts.turnTimeout = time.Second
			}
			opts.texts = splitTexts(textsRaw)
			if len(opts.texts) == 0 {
				opts.texts = append([]string(nil), defaultProbeTexts...)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			latencies, err := runProbe(ctx, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summarize(latencies))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "http://127.0.0.1:8080", "gateway base URL")
	cmd.Flags().IntVar(&opts.turns, "turns", 3, "number of messages to send")
	cmd.Flags().StringVar(&textsRaw, "texts", "", "messages separated by '|'")
	cmd.Flags().DurationVar(&opts.turnTimeout, "turn-timeout", 20*time.Second, "time to wait for each avatar reply")
	cmd.Flags().DurationVar(&opts.startDelay, "start-delay", time.Second, "wait before the first message so a greeting can finish")
	cmd.Flags().DurationVar(&opts.interTurn, "inter-turn", 200*time.Millisecond, "delay between messages")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "print every websocket message")
	return cmd
}

func splitTexts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, "|") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func runProbe(ctx context.Context, opts probeOptions, out io.Writer) ([]time.Duration, error) {
	httpClient := &http.Client{Timeout: 45 * time.Second}
	created := time.Now()
	sessionID, err := createSession(ctx, httpClient, opts.baseURL)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	defer func() {
		_ = stopSession(context.Background(), httpClient, opts.baseURL, sessionID)
	}()
	fmt.Fprintf(out, "probe: session=%s start=%s\n", sessionID, time.Since(created).Round(time.Millisecond))

	wsURL, err := wsURLForSession(opts.baseURL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	replyCh := make(chan struct{}, 8)
	readErrCh := make(chan error, 1)
	go readLoop(conn, replyCh, readErrCh, opts.verbose, out)

	if opts.startDelay > 0 {
		time.Sleep(opts.startDelay)
	}
	drain(replyCh)

	latencies := make([]time.Duration, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		text := opts.texts[i%len(opts.texts)]
		sent := time.Now()
		msg := protocol.ClientMessage{
			Type:      protocol.TypeClientMessage,
			SessionID: sessionID,
			Text:      text,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return latencies, fmt.Errorf("turn %d send: %w", i+1, err)
		}
		if err := awaitReply(replyCh, readErrCh, opts.turnTimeout); err != nil {
			return latencies, fmt.Errorf("turn %d await reply: %w", i+1, err)
		}
		d := time.Since(sent)
		latencies = append(latencies, d)
		fmt.Fprintf(out, "probe: turn %d/%d text=%q reply=%s\n", i+1, opts.turns, text, d.Round(time.Millisecond))
		if opts.interTurn > 0 && i < opts.turns-1 {
			time.Sleep(opts.interTurn)
		}
	}
	return latencies, nil
}

func createSession(ctx context.Context, client *http.Client, baseURL string) (string, error) {
	payload, err := json.Marshal(session.CreateRequest{})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/avatar/session", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("HTTP %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	var created session.CreateResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return "", err
	}
	if strings.TrimSpace(created.SessionID) == "" {
		return "", fmt.Errorf("missing session_id in response")
	}
	return created.SessionID, nil
}

func stopSession(ctx context.Context, client *http.Client, baseURL, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/avatar/session/"+url.PathEscape(sessionID)+"/stop", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<20))
	return nil
}

func wsURLForSession(baseURL, sessionID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/avatar/session/ws"
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// readLoop signals replyCh each time the avatar finishes speaking.
func readLoop(conn *websocket.Conn, replyCh chan<- struct{}, readErrCh chan<- error, verbose bool, out io.Writer) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		if verbose {
			fmt.Fprintf(out, "probe: <- %s\n", data)
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch {
		case isReplyEnd(env):
			select {
			case replyCh <- struct{}{}:
			default:
			}
		case env.Type == string(protocol.TypeErrorEvent):
			fmt.Fprintf(out, "probe: error_event code=%s detail=%s\n", env.Code, env.Detail)
		}
	}
}

func isReplyEnd(env wsEnvelope) bool {
	return env.Type == string(protocol.TypeAvatarEvent) && env.Event == string(avatar.EventAvatarStopTalking)
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func awaitReply(replyCh <-chan struct{}, readErrCh <-chan error, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-replyCh:
		return nil
	case err := <-readErrCh:
		return err
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}

func summarize(latencies []time.Duration) string {
	if len(latencies) == 0 {
		return "probe: no replies"
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	p95 := sorted[(len(sorted)*95+99)/100-1]
	return fmt.Sprintf("probe: replies=%d avg=%s p50=%s p95=%s max=%s",
		len(sorted),
		(total / time.Duration(len(sorted))).Round(time.Millisecond),
		sorted[(len(sorted)-1)/2].Round(time.Millisecond),
		p95.Round(time.Millisecond),
		sorted[len(sorted)-1].Round(time.Millisecond),
	)
}
