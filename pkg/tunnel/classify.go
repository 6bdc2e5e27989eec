package tunnel

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// classificationRule maps a known daemon output fragment to a human readable
// failure detail. Rules are data so new daemon wordings are a one-line
// addition, and they are evaluated in order: first match wins.
type classificationRule struct {
	fragment string
	detail   string
}

var negotiationRules = []classificationRule{
	{"no proposal chosen", "encryption algorithm mismatch (no proposal chosen)"},
	{"authentication_failed", "authentication failed, pre-shared key likely wrong"},
	{"authentication failed", "authentication failed, pre-shared key likely wrong"},
	{"invalid_hash_information", "authentication failed, pre-shared key likely wrong"},
	{"retransmit", "peer not responding (retransmits exhausted), unreachable or firewalled"},
	{"timed out", "peer not responding, unreachable or firewalled"},
	{"no response", "peer not responding, unreachable or firewalled"},
}

const rawOutputLimit = 200

// ClassifyNegotiation turns raw bring-up/status output into a failure
// detail. Unmatched output falls back to a generic message carrying a
// truncated copy of what the daemon printed.
func ClassifyNegotiation(output string) string {
	lower := strings.ToLower(output)
	for _, rule := range negotiationRules {
		if strings.Contains(lower, rule.fragment) {
			return rule.detail
		}
	}

	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return "tunnel did not reach ESTABLISHED within the wait window"
	}
	if len(trimmed) > rawOutputLimit {
		// Cut on a rune boundary so the detail stays valid UTF-8.
		cut := rawOutputLimit
		for cut > 0 && !utf8.RuneStart(trimmed[cut]) {
			cut--
		}
		trimmed = trimmed[:cut] + "..."
	}
	return fmt.Sprintf("tunnel negotiation failed: %s", trimmed)
}
