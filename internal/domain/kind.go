package domain

// Kind classifies why an operation did not succeed. Callers pick the
// corrective next step from the kind, never from the raw cause.
type Kind string

const (
	KindNone             Kind = ""
	KindNotVerified      Kind = "not_verified"
	KindValidationFailed Kind = "validation_failed"
	KindNotFound         Kind = "not_found"
	KindStoreError       Kind = "store_error"
	KindDefaultedInput   Kind = "defaulted_input"
)

// Recoverable reports whether the conversation can retry or re-ask for details.
func (k Kind) Recoverable() bool {
	return k == KindStoreError || k == KindNotFound || k == KindDefaultedInput
}

// Warning surfaces a value the system substituted instead of the user's input.
type Warning struct {
	Field       string `json:"field"`
	Raw         string `json:"raw"`
	DefaultedTo string `json:"defaulted_to"`
}
