package realtime

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildEndpoint derives the push endpoint from the API base URL:
// http(s)://host/api => ws(s)://host/api/ws?token=... . hostOverride replaces
// the host and may carry its own ws/wss scheme.
func BuildEndpoint(apiBaseURL, hostOverride, token string) (string, error) {
	base, err := url.Parse(apiBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse api base url: %w", err)
	}
	if base.Host == "" {
		return "", fmt.Errorf("api base url %q has no host", apiBaseURL)
	}

	scheme := "ws"
	if base.Scheme == "https" {
		scheme = "wss"
	}
	host := base.Host

	if override := strings.TrimSpace(hostOverride); override != "" {
		if strings.Contains(override, "://") {
			u, err := url.Parse(override)
			if err != nil {
				return "", fmt.Errorf("parse ws host: %w", err)
			}
			switch u.Scheme {
			case "wss", "https":
				scheme = "wss"
			case "ws", "http":
				scheme = "ws"
			}
			host = u.Host
		} else {
			host = strings.TrimRight(override, "/")
		}
	}

	path := strings.TrimRight(base.Path, "/")
	if !strings.HasSuffix(path, "/api") {
		path += "/api"
	}

	endpoint := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     path + "/ws",
		RawQuery: url.Values{"token": {token}}.Encode(),
	}
	return endpoint.String(), nil
}
