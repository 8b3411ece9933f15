package types

// SecretString wraps sensitive configuration values (database URLs, file
// server credentials) so they cannot leak through logs or JSON encoding.
// The raw value is only reachable through Reveal.
type SecretString string

const redactedPlaceholder = "[REDACTED]"

// String implements fmt.Stringer, returning a redacted placeholder.
func (s SecretString) String() string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}

// Reveal returns the underlying secret value. Call sites should be the only
// places the raw value crosses a process boundary.
func (s SecretString) Reveal() string {
	return string(s)
}

// MarshalJSON redacts the value in any JSON encoding.
func (s SecretString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// UnmarshalJSON accepts a plain JSON string as the secret value.
func (s *SecretString) UnmarshalJSON(data []byte) error {
	if len(data) >= 2 && data[0] == '"' && data[len(data)-1] == '"' {
		*s = SecretString(data[1 : len(data)-1])
		return nil
	}
	*s = SecretString(data)
	return nil
}
