// Package policy holds the resource limits enforced across the daemon:
// hop budgets per thread, payload caps, and API token format rules.
package policy

import (
	"strings"

	"github.com/relaymesh/relay/internal/relayerr"
)

const (
	DefaultMaxPayloadBytes = 16 * 1024
	DefaultMaxHops         = 50
	minAPITokenLen         = 16
)

// Limits is the active resource policy. Zero values fall back to the
// defaults via Normalize.
type Limits struct {
	MaxPayloadBytes int `json:"max_payload_bytes" yaml:"max_payload_bytes"`
	MaxHops         int `json:"max_hops" yaml:"max_hops"`
}

func Default() Limits {
	return Limits{
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		MaxHops:         DefaultMaxHops,
	}
}

// Normalize fills unset fields with defaults.
func (l Limits) Normalize() Limits {
	if l.MaxPayloadBytes <= 0 {
		l.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if l.MaxHops <= 0 {
		l.MaxHops = DefaultMaxHops
	}
	return l
}

// CheckHops rejects further capability invocations once a thread has
// used up its hop budget.
func (l Limits) CheckHops(hopCount int) error {
	if hopCount >= l.MaxHops {
		return relayerr.Limit("hop limit exceeded: %d/%d", hopCount, l.MaxHops)
	}
	return nil
}

// CheckPayload bounds inbound request bodies and capability args.
func (l Limits) CheckPayload(size int) error {
	if size > l.MaxPayloadBytes {
		return relayerr.Limit("payload %d bytes exceeds limit of %d", size, l.MaxPayloadBytes)
	}
	return nil
}

// ValidateAPIToken rejects tokens too short or containing whitespace.
// Applied at startup so a misconfigured daemon fails fast instead of
// silently accepting weak tokens.
func ValidateAPIToken(token string) error {
	if len(token) < minAPITokenLen {
		return relayerr.Validation("api token too short (min %d chars)", minAPITokenLen)
	}
	if strings.ContainsAny(token, " \t\n\r") {
		return relayerr.Validation("api token must not contain whitespace")
	}
	return nil
}
