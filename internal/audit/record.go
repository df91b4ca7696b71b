package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Record is one line in the hash-chained JSONL audit log. All fields are
// scalars to guarantee deterministic json.Marshal field order for
// reproducible hashing. Argument values never appear; only ArgsHash does.
type Record struct {
	Timestamp       string `json:"ts"`
	RequestID       string `json:"request_id"`
	Operation       string `json:"operation"`
	ArgsHash        string `json:"args_hash"`
	Mutates         bool   `json:"mutates"`
	RequiresConfirm bool   `json:"requires_confirm"`
	Status          string `json:"status"`
	Detail          string `json:"detail,omitempty"`
	ExitCode        int    `json:"exit_code"`
	ElapsedMs       int64  `json:"elapsed_ms"`
	StdoutTruncated bool   `json:"stdout_truncated,omitempty"`
	StderrTruncated bool   `json:"stderr_truncated,omitempty"`
	PolicyHash      string `json:"policy_hash"`
	PrevHash        string `json:"prev_hash"`
}

// redactedValue replaces sensitive argument values before hashing, so even
// the hash cannot be used to confirm a guessed secret.
const redactedValue = "[redacted]"

// HashArgs fingerprints the argument map after redacting sensitive keys.
// json.Marshal sorts map keys, so the result is deterministic for equal maps.
func HashArgs(args map[string]any, sensitive []string) (string, error) {
	if len(args) == 0 {
		return "sha256:" + hex.EncodeToString(sha256.New().Sum(nil)), nil
	}
	sanitized := make(map[string]any, len(args))
	for k, v := range args {
		sanitized[k] = v
	}
	for _, k := range sensitive {
		if _, ok := sanitized[k]; ok {
			sanitized[k] = redactedValue
		}
	}
	raw, err := json.Marshal(sanitized)
	if err != nil {
		return "", fmt.Errorf("audit: marshal args: %w", err)
	}
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
