package httpapi

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type onboardingCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type onboardingStatusResponse struct {
	ClientMode  string            `json:"client_mode"`
	ArchiveMode string            `json:"archive_mode"`
	Ready       bool              `json:"ready"`
	Checks      []onboardingCheck `json:"checks"`
}

func (s *Server) handleOnboardingStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]onboardingCheck, 0, 6)
	checks = append(checks, s.credentialChecks()...)
	checks = append(checks, s.defaultsCheck())
	checks = append(checks, s.archiveCheck())

	ready := true
	for _, c := range checks {
		if c.Status == "error" {
			ready = false
			break
		}
	}
	respondJSON(w, http.StatusOK, onboardingStatusResponse{
		ClientMode:  s.clientMode(),
		ArchiveMode: archiveMode(s.archive),
		Ready:       ready,
		Checks:      checks,
	})
}

func (s *Server) credentialChecks() []onboardingCheck {
	if s.cfg.UseMockClient() {
		return []onboardingCheck{{
			ID:     "avatar_client",
			Status: "warn",
			Label:  "Avatar client is mock",
			Detail: "Sessions echo text locally; no video is streamed.",
			Fix:    "Set AVATAR_API_KEY or TOKEN_ENDPOINT_URL to talk to the avatar service.",
		}}
	}

	checks := []onboardingCheck{{
		ID:     "avatar_client",
		Status: "ok",
		Label:  "Avatar API",
		Detail: s.cfg.AvatarAPIBaseURL,
	}}
	if s.cfg.TokenEndpointURL != "" {
		checks = append(checks, endpointCheck("token_endpoint", "Token endpoint", s.cfg.TokenEndpointURL))
	} else if s.cfg.AvatarAPIKey != "" {
		checks = append(checks, onboardingCheck{
			ID:     "api_key",
			Status: "ok",
			Label:  "Avatar API key",
			Detail: "present",
		})
	}
	checks = append(checks, endpointCheck("avatar_api", "Avatar API reachable", s.cfg.AvatarAPIBaseURL))
	return checks
}

func (s *Server) defaultsCheck() onboardingCheck {
	path := s.cfg.AvatarDefaults
	if path == "" {
		return onboardingCheck{
			ID:     "avatar_defaults",
			Status: "ok",
			Label:  "Session defaults",
			Detail: "built-in (" + s.defaults.AvatarName + ")",
		}
	}
	if _, err := os.Stat(path); err != nil {
		return onboardingCheck{
			ID:     "avatar_defaults",
			Status: "error",
			Label:  "Session defaults",
			Detail: err.Error(),
			Fix:    "Point AVATAR_DEFAULTS_FILE at a readable YAML file or unset it.",
		}
	}
	return onboardingCheck{
		ID:     "avatar_defaults",
		Status: "ok",
		Label:  "Session defaults",
		Detail: path,
	}
}

func (s *Server) archiveCheck() onboardingCheck {
	switch mode := archiveMode(s.archive); mode {
	case "postgres", "redis":
		return onboardingCheck{ID: "archive", Status: "ok", Label: "Session archive", Detail: mode}
	case "in-memory":
		return onboardingCheck{
			ID:     "archive",
			Status: "warn",
			Label:  "Session archive",
			Detail: "in-memory only",
			Fix:    "Set DATABASE_URL or REDIS_URL to keep session history across restarts.",
		}
	default:
		return onboardingCheck{ID: "archive", Status: "warn", Label: "Session archive", Detail: mode}
	}
}

// endpointCheck dials the host behind rawURL without sending a request.
func endpointCheck(id, label, rawURL string) onboardingCheck {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return onboardingCheck{
			ID:     id,
			Status: "error",
			Label:  label,
			Detail: "invalid url " + rawURL,
		}
	}
	host := u.Host
	if u.Port() == "" {
		port := "443"
		if u.Scheme == "http" || u.Scheme == "ws" {
			port = "80"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	conn, err := net.DialTimeout("tcp", host, 2*time.Second)
	if err != nil {
		return onboardingCheck{
			ID:     id,
			Status: "warn",
			Label:  label,
			Detail: err.Error(),
			Fix:    "Check network access to " + u.Host + ".",
		}
	}
	_ = conn.Close()
	return onboardingCheck{ID: id, Status: "ok", Label: label, Detail: u.Host}
}
