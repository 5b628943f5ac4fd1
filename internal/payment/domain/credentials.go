package domain

import "strings"

// Credentials is an already-resolved credential pair handed to adapter
// construction. Adapters never read the environment themselves.
type Credentials struct {
	ID     string
	Secret string
}

func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.ID) != "" && strings.TrimSpace(c.Secret) != ""
}

// ResolveCredentials picks the explicit per-tenant pair when it is complete,
// otherwise falls back to the configured defaults. A partial explicit pair is
// rejected rather than silently merged with the defaults.
func ResolveCredentials(explicit, defaults Credentials) (Credentials, error) {
	if explicit.Complete() {
		return explicit, nil
	}
	if strings.TrimSpace(explicit.ID) != "" || strings.TrimSpace(explicit.Secret) != "" {
		return Credentials{}, ErrProviderConfig
	}
	if defaults.Complete() {
		return defaults, nil
	}
	return Credentials{}, ErrProviderConfig
}
