package capability_test

import (
	"encoding/json"
	"testing"

	"github.com/relaymesh/relay/internal/capability"
	"github.com/relaymesh/relay/internal/relayerr"
)

func fp(t *testing.T, req capability.Request, version string) string {
	t.Helper()
	s, err := capability.Fingerprint(req, version)
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	return s
}

func TestFingerprintKeyOrderCanonicalization(t *testing.T) {
	a := capability.Request{ThreadID: "t1", Capability: "http.fetch", Args: json.RawMessage(`{"url":"https://x.test","limit":5}`)}
	b := capability.Request{ThreadID: "t1", Capability: "http.fetch", Args: json.RawMessage(`{"limit":5,"url":"https://x.test"}`)}
	if fp(t, a, "v1") != fp(t, b, "v1") {
		t.Error("key order changed the fingerprint")
	}
}

func TestFingerprintSensitiveToArgs(t *testing.T) {
	a := capability.Request{ThreadID: "t1", Capability: "c", Args: json.RawMessage(`{"q":"one"}`)}
	b := capability.Request{ThreadID: "t1", Capability: "c", Args: json.RawMessage(`{"q":"two"}`)}
	if fp(t, a, "v1") == fp(t, b, "v1") {
		t.Error("different args produced the same fingerprint")
	}
}

func TestFingerprintVersionInvalidates(t *testing.T) {
	req := capability.Request{ThreadID: "t1", Capability: "c", Args: json.RawMessage(`{}`)}
	if fp(t, req, "v1") == fp(t, req, "v2") {
		t.Error("version bump did not change the fingerprint")
	}
}

func TestFingerprintScopeDefaultsToThread(t *testing.T) {
	a := capability.Request{ThreadID: "t1", Capability: "c", Args: json.RawMessage(`{}`)}
	b := capability.Request{ThreadID: "t2", Capability: "c", Args: json.RawMessage(`{}`)}
	if fp(t, a, "v1") == fp(t, b, "v1") {
		t.Error("thread-scoped requests from different threads share a fingerprint")
	}

	a.Scope, b.Scope = "global", "global"
	if fp(t, a, "v1") != fp(t, b, "v1") {
		t.Error("explicit shared scope did not unify fingerprints across threads")
	}
}

func TestFingerprintIdempotencyKeyOverridesArgs(t *testing.T) {
	a := capability.Request{ThreadID: "t1", Capability: "c", Args: json.RawMessage(`{"attempt":1}`), IdempotencyKey: "job-42"}
	b := capability.Request{ThreadID: "t1", Capability: "c", Args: json.RawMessage(`{"attempt":2}`), IdempotencyKey: "job-42"}
	if fp(t, a, "v1") != fp(t, b, "v1") {
		t.Error("same idempotency key with different args changed the fingerprint")
	}

	b.IdempotencyKey = "job-43"
	if fp(t, a, "v1") == fp(t, b, "v1") {
		t.Error("different idempotency keys share a fingerprint")
	}
}

func TestFingerprintEmptyArgs(t *testing.T) {
	a := capability.Request{ThreadID: "t1", Capability: "c"}
	b := capability.Request{ThreadID: "t1", Capability: "c", Args: json.RawMessage(`null`)}
	if fp(t, a, "v1") != fp(t, b, "v1") {
		t.Error("absent args and JSON null fingerprint differently")
	}
}

func TestFingerprintInvalidArgs(t *testing.T) {
	req := capability.Request{ThreadID: "t1", Capability: "c", Args: json.RawMessage(`{not json`)}
	_, err := capability.Fingerprint(req, "v1")
	if !relayerr.IsKind(err, relayerr.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}
