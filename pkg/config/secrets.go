package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const (
	keyringService      = "wabridge"
	keyringDashboardKey = "dashboard-token"
)

// DashboardToken resolves the auth token for the local dashboard.
// Resolution order: WABRIDGE_DASHBOARD_TOKEN env var, then the OS keyring.
// When neither exists a random token is generated and stored in the keyring.
func DashboardToken() (string, error) {
	if tok := strings.TrimSpace(os.Getenv("WABRIDGE_DASHBOARD_TOKEN")); tok != "" {
		return tok, nil
	}

	tok, err := keyring.Get(keyringService, keyringDashboardKey)
	if err == nil && strings.TrimSpace(tok) != "" {
		return tok, nil
	}
	if err != nil && err != keyring.ErrNotFound {
		return "", fmt.Errorf("read dashboard token from keyring: %w", err)
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate dashboard token: %w", err)
	}
	tok = base64.RawURLEncoding.EncodeToString(raw)

	if err := keyring.Set(keyringService, keyringDashboardKey, tok); err != nil {
		// Keyring may be unavailable on headless hosts; the generated token
		// is still usable for this run.
		return tok, nil
	}

	return tok, nil
}
