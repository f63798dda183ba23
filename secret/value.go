package secret

import (
	"encoding/json"
	"fmt"
	"time"
)

const redacted = "[REDACTED]"

// Secret is a resolved secret value. It is immutable and passed by value.
//
// String, GoString and MarshalJSON never include Value, so a Secret that
// reaches a log line or an encoded response does not leak.
type Secret struct {
	Value     string
	Version   string
	ExpiresOn time.Time // zero when the backend reports no expiry
}

// Expired reports whether the backend-declared expiry has passed.
func (s Secret) Expired(now time.Time) bool {
	return !s.ExpiresOn.IsZero() && now.After(s.ExpiresOn)
}

func (s Secret) String() string {
	if s.Version == "" {
		return "Secret(" + redacted + ")"
	}
	return "Secret(" + redacted + "@" + s.Version + ")"
}

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string {
	return fmt.Sprintf("secret.Secret{Value:%q, Version:%q, ExpiresOn:%q}", redacted, s.Version, s.ExpiresOn.Format(time.RFC3339))
}

// MarshalJSON encodes the metadata with the value redacted.
func (s Secret) MarshalJSON() ([]byte, error) {
	out := struct {
		Value     string     `json:"value"`
		Version   string     `json:"version,omitempty"`
		ExpiresOn *time.Time `json:"expires_on,omitempty"`
	}{Value: redacted, Version: s.Version}
	if !s.ExpiresOn.IsZero() {
		exp := s.ExpiresOn
		out.ExpiresOn = &exp
	}
	return json.Marshal(out)
}
