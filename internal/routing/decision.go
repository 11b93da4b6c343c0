package routing

import "time"

// Result describes the outcome of one Route call: which provider
// ultimately answered, whether the static fallback had to be used, and
// how many attempts (across all providers) were spent getting there.
type Result struct {
	Text         string        `json:"text"`
	Provider     string        `json:"provider"`
	FallbackUsed bool          `json:"fallback_used"`
	Attempts     int           `json:"attempts"`
	FailedChain  []string      `json:"failed_chain,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}
