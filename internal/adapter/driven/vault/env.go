package vault

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialVault = (*EnvVault)(nil)

// envCredPrefix namespaces credential variables away from the HERALD_* config
// overrides.
const envCredPrefix = "HERALD_CRED_"

var errEnvReadOnly = errors.New("environment credentials are read-only")

// EnvVault serves credentials from HERALD_CRED_<PLATFORM>_<FIELD> environment
// variables, for deployments where the orchestrator owns secret delivery and
// the encrypted store is disabled. Mutations are rejected.
type EnvVault struct{}

// NewEnvVault creates an environment-backed credential source.
func NewEnvVault() *EnvVault {
	return &EnvVault{}
}

// Get assembles the platform's record from its environment variables.
// Variable suffixes become lowercase field names, so HERALD_CRED_GITHUB_TOKEN
// is the "token" field of the "github" record.
func (v *EnvVault) Get(_ context.Context, platformID string) (model.CredentialRecord, error) {
	prefix := envCredPrefix + strings.ToUpper(platformID) + "_"

	fields := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, prefix))
		if name == "" {
			continue
		}
		fields[name] = value
	}

	if len(fields) == 0 {
		return model.CredentialRecord{}, driven.ErrCredentialNotFound
	}
	return model.CredentialRecord{PlatformID: platformID, Fields: fields, Version: 1}, nil
}

// Put rejects writes; the environment is owned by the deployment.
func (v *EnvVault) Put(context.Context, model.CredentialRecord) error {
	return errEnvReadOnly
}

// Delete rejects writes; the environment is owned by the deployment.
func (v *EnvVault) Delete(context.Context, string) error {
	return errEnvReadOnly
}

// List returns the platforms that have at least one credential variable set,
// sorted. Platform identifiers contain no underscores, so the segment after
// the prefix is unambiguous.
func (v *EnvVault) List(context.Context) ([]string, error) {
	seen := make(map[string]bool)
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, envCredPrefix) {
			continue
		}
		rest := strings.TrimPrefix(key, envCredPrefix)
		platform, field, ok := strings.Cut(rest, "_")
		if !ok || platform == "" || field == "" {
			continue
		}
		seen[strings.ToLower(platform)] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// RotateKey has no meaning for environment credentials.
func (v *EnvVault) RotateKey(context.Context, []byte) error {
	return errEnvReadOnly
}
