package registry

import "context"

// DisplayProvider supplies dynamic display values for a task or consumer,
// keyed by display column key. Implementations may perform I/O (pending
// counts, config lookups) and should honor the passed context.
type DisplayProvider interface {
	Fetch(ctx context.Context) (map[string]string, error)
}

// DisplayFunc adapts a plain function with no failure mode into a
// DisplayProvider.
type DisplayFunc func() map[string]string

// Fetch implements DisplayProvider.
func (f DisplayFunc) Fetch(_ context.Context) (map[string]string, error) {
	return f(), nil
}

// DisplayContextFunc adapts a context-aware, fallible function into a
// DisplayProvider.
type DisplayContextFunc func(ctx context.Context) (map[string]string, error)

// Fetch implements DisplayProvider.
func (f DisplayContextFunc) Fetch(ctx context.Context) (map[string]string, error) {
	return f(ctx)
}

// ResolveDisplayValues invokes the provider and normalizes every failure
// mode to an empty map: nil provider, returned error, and nil result all
// yield {}. Display values feed dashboards only, so a broken provider must
// never surface as an error to callers.
func ResolveDisplayValues(ctx context.Context, provider DisplayProvider) map[string]string {
	if provider == nil {
		return map[string]string{}
	}

	values, err := provider.Fetch(ctx)
	if err != nil || values == nil {
		return map[string]string{}
	}
	return values
}
