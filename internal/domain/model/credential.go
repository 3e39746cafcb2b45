package model

// CredentialRecord holds the secret material for one platform: named fields
// such as "token", "username", or "password". Records live encrypted in the
// vault and are decrypted only for the duration of the consuming call; they
// must never be logged or serialized outside the vault.
type CredentialRecord struct {
	PlatformID string
	Fields     map[string]string
	Version    int // Increments on every Put for the platform.
}

// Field returns the named field value, or "" when absent.
func (r CredentialRecord) Field(name string) string {
	return r.Fields[name]
}

// Clone returns a deep copy so callers cannot alias the vault's map.
func (r CredentialRecord) Clone() CredentialRecord {
	out := CredentialRecord{PlatformID: r.PlatformID, Version: r.Version}
	if r.Fields != nil {
		out.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Wipe clears the field map in place. Best effort: strings already handed
// out remain immutable copies, but the record itself no longer references
// secret material.
func (r *CredentialRecord) Wipe() {
	for k := range r.Fields {
		delete(r.Fields, k)
	}
}
