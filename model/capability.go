// Package model provides capability-based model selection for the editing
// pipeline. Components specify what they need done (enhance, generate,
// validate) and the registry resolves that to configured endpoints with
// fallback chains, tracks per-endpoint health, and routes task categories
// to generation profiles.
package model

// Capability represents a pipeline phase a model can serve.
type Capability string

const (
	// CapabilityEnhance is instruction expansion: turning a raw edit
	// request into a model-specific prompt.
	CapabilityEnhance Capability = "enhance"

	// CapabilityGenerate is image generation/editing.
	CapabilityGenerate Capability = "generate"

	// CapabilityValidate is candidate grading against the reference
	// image. Validation endpoints run a higher-cost reasoning mode.
	CapabilityValidate Capability = "validate"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityEnhance, CapabilityGenerate, CapabilityValidate:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for
// invalid values.
func ParseCapability(s string) Capability {
	cap := Capability(s)
	if cap.IsValid() {
		return cap
	}
	return ""
}
