package agentloop

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// repeatWindow is how many recent actions a candidate is compared against.
const repeatWindow = 3

// actionSignature computes a deterministic signature for a call. Parameters
// are re-encoded through encoding/json, which sorts map keys, so structurally
// equal parameter objects share a signature regardless of key order.
func actionSignature(name string, params map[string]any) string {
	if len(params) == 0 {
		return name + ":-"
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%s:%v", name, params)
	}
	h := sha256.Sum256(raw)
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// IsRepeat reports whether the candidate call has the same function name and
// structurally equal parameters as any of the last three recent actions.
// recent may be longer; only its tail is consulted.
func IsRepeat(recent []Action, name string, params map[string]any) bool {
	if len(recent) > repeatWindow {
		recent = recent[len(recent)-repeatWindow:]
	}
	sig := actionSignature(name, params)
	for _, a := range recent {
		if a.FunctionName == name && actionSignature(a.FunctionName, a.Parameters) == sig {
			return true
		}
	}
	return false
}
