package secret

import "context"

// Backend fetches secrets from one remote or local store.
//
// Contract:
//   - Concurrency: Fetch must be safe for concurrent use.
//   - Context: Fetch must honor cancellation and deadlines.
//   - Errors: failures are a *Error, a kind sentinel, or any error KindOf can
//     classify. An empty version requests the latest version.
//   - Fetch never logs the secret value.
type Backend interface {
	Name() string
	Fetch(ctx context.Context, name, version string) (Secret, error)
}

// Pinger is implemented by backends that can probe their store without
// fetching a secret.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FetchFunc is the signature of Backend.Fetch.
type FetchFunc func(ctx context.Context, name, version string) (Secret, error)

type funcBackend struct {
	name  string
	fetch FetchFunc
}

// NewBackendFunc adapts fn to a Backend called name.
func NewBackendFunc(name string, fn FetchFunc) Backend {
	return &funcBackend{name: name, fetch: fn}
}

func (b *funcBackend) Name() string { return b.name }

func (b *funcBackend) Fetch(ctx context.Context, name, version string) (Secret, error) {
	return b.fetch(ctx, name, version)
}
