package capability

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"

	"github.com/relaymesh/relay/internal/relayerr"
)

// fingerprintDomainKey separates capability fingerprints from artifact
// and state refs in the keyed-hash domain scheme.
var fingerprintDomainKey = [32]byte{
	'r', 'e', 'l', 'a', 'y', '.', 'c', 'a', 'p', '.', 'f', 'p', 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Fingerprint computes the deterministic memoization key for a request
// against a capability version. Arguments are canonicalized through a
// JSON round trip — encoding/json sorts object keys on marshal, so
// semantically identical argument objects fingerprint identically
// regardless of key order. An idempotency key, when present, replaces
// the argument term entirely.
func Fingerprint(req Request, version string) (string, error) {
	scope := req.Scope
	if scope == "" {
		scope = req.ThreadID
	}

	argsTerm := "idem:" + req.IdempotencyKey
	if req.IdempotencyKey == "" {
		canon, err := canonicalArgs(req.Args)
		if err != nil {
			return "", err
		}
		argsTerm = "args:" + canon
	}

	hasher, err := blake3.NewKeyed(fingerprintDomainKey[:])
	if err != nil {
		panic("capability: blake3 keyed init: " + err.Error())
	}
	for _, term := range []string{scope, req.Capability, version, argsTerm} {
		hasher.Write([]byte(term))
		hasher.Write([]byte{0}) // field separator, keeps terms from bleeding together
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:16]), nil
}

// canonicalArgs produces the canonical JSON encoding of an argument
// object: decoded to a generic value, re-marshaled with sorted keys.
func canonicalArgs(args json.RawMessage) (string, error) {
	if len(args) == 0 {
		return "null", nil
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return "", relayerr.Validation("capability args are not valid JSON: %v", err)
	}
	canon, err := json.Marshal(v)
	if err != nil {
		return "", relayerr.Validation("canonicalize capability args: %v", err)
	}
	return string(canon), nil
}
