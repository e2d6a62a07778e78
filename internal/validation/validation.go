package validation

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	minSecretLen = 8
	maxSecretLen = 512

	maxPrincipalLen   = 256
	maxDisplayNameLen = 128
)

// Principal validates an externally-authenticated principal identifier.
// The identity layer owns authentication; this only guards against absent or
// malformed ids reaching the core.
func Principal(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("principal id is required")
	}
	if len(id) > maxPrincipalLen {
		return fmt.Errorf("principal id exceeds %d characters", maxPrincipalLen)
	}
	for _, c := range id {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("principal id contains control characters")
		}
	}
	return nil
}

// DisplayName validates a credential display name.
func DisplayName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > maxDisplayNameLen {
		return fmt.Errorf("name exceeds %d characters", maxDisplayNameLen)
	}
	return nil
}

// Secret validates a credential secret value: non-empty, bounded length,
// no control characters. Most provider API keys fall well inside these
// bounds.
func Secret(secret string) error {
	if len(secret) < minSecretLen || len(secret) > maxSecretLen {
		return fmt.Errorf("secret must be between %d and %d characters", minSecretLen, maxSecretLen)
	}
	for _, c := range secret {
		if c < 0x20 || c == 0x7f {
			return fmt.Errorf("secret contains control characters")
		}
	}
	return nil
}

// TargetURL validates and parses a proxy target. Only absolute http(s) URLs
// with a host are accepted.
func TargetURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("target_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid target_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("target_url scheme must be http or https")
	}
	if u.Host == "" {
		return nil, fmt.Errorf("target_url must include a host")
	}
	return u, nil
}

// Method validates an HTTP method for proxy calls.
func Method(method string) (string, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	switch m {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD":
		return m, nil
	case "":
		return "", fmt.Errorf("method is required")
	default:
		return "", fmt.Errorf("method %q is not supported", method)
	}
}
