package thread

import "strings"

// Capabilities describes what a model accepts on the wire.
type Capabilities struct {
	SupportsSystemRole bool
}

var defaultCapabilities = Capabilities{SupportsSystemRole: true}

// capabilityRule pairs a model matcher with the capabilities it implies.
// Rules are evaluated in order; the first match wins.
type capabilityRule struct {
	matches      func(modelID string) bool
	capabilities Capabilities
}

// Models known to reject the system role outright. Matched by substring so
// provider-suffixed variants (":free" etc) are caught too.
var systemRoleDenylist = []string{
	"google/gemma-3n-e4b-it",
	"google/gemma-2-9b-it",
	"google/gemma-2-27b-it",
	"google/gemma-7b-it",
	"google/gemma-2b-it",
}

var capabilityTable = []capabilityRule{
	{
		matches: func(modelID string) bool {
			for _, denied := range systemRoleDenylist {
				if strings.Contains(modelID, denied) {
					return true
				}
			}
			return false
		},
		capabilities: Capabilities{SupportsSystemRole: false},
	},
	{
		matches: func(modelID string) bool {
			return strings.HasPrefix(modelID, "google/gemma")
		},
		capabilities: Capabilities{SupportsSystemRole: false},
	},
}

// CapabilitiesFor returns the wire capabilities of a model. Unknown models
// are assumed fully capable.
func CapabilitiesFor(modelID string) Capabilities {
	for _, rule := range capabilityTable {
		if rule.matches(modelID) {
			return rule.capabilities
		}
	}
	return defaultCapabilities
}
