package models

// Provider keys. These double as the settings keys for provider enablement.
const (
	ProviderPeacock = "peacock"
	ProviderABC     = "abc"
)

// Channel kinds.
const (
	KindLinear   = "linear"
	KindOnDemand = "on-demand"
)

// GuideSuffix is appended to channel numbers to form guide ids and is the
// generator name advertised in exports.
const GuideSuffix = "ccEPG"
