package chrome

import (
	_ "embed"
	"encoding/json"
	"strings"

	"github.com/adscan/adscan/internal/common/configtypes"
)

//go:embed payload.js
var payloadScript string

// payloadOptions is the option object handed to the in-page script. Field
// names must stay in sync with the OPTS references in payload.js.
type payloadOptions struct {
	DiscoveryMode       bool   `json:"discoveryMode"`
	ExtractMetadata     bool   `json:"extractMetadata"`
	AdUnitDetail        string `json:"adUnitDetail"`
	ModuleDetail        string `json:"moduleDetail"`
	IdentityDetail      bool   `json:"identityDetail"`
	PrebidConfigDetail  bool   `json:"prebidConfigDetail"`
	IdentityUsageDetail bool   `json:"identityUsageDetail"`
}

// buildPayload splices the extraction options into the embedded script.
func buildPayload(cfg configtypes.ExtractionConfig) string {
	opts := payloadOptions{
		DiscoveryMode:       cfg.DiscoveryMode,
		ExtractMetadata:     cfg.ExtractMetadata,
		AdUnitDetail:        cfg.AdUnitDetail,
		ModuleDetail:        cfg.ModuleDetail,
		IdentityDetail:      cfg.IdentityDetail,
		PrebidConfigDetail:  cfg.PrebidConfigDetail,
		IdentityUsageDetail: cfg.IdentityUsageDetail,
	}

	encoded, err := json.Marshal(opts)
	if err != nil {
		encoded = []byte("{}")
	}
	return strings.Replace(payloadScript, "__SCAN_OPTIONS__", string(encoded), 1)
}
