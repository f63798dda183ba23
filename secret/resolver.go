package secret

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// RefPrefix marks a secret reference in a configuration value.
const RefPrefix = "secretref:"

// Getter is satisfied by *Provider and *Composite.
type Getter interface {
	GetSecret(ctx context.Context, name string, opts ...GetOption) (Secret, error)
}

// Ref is a parsed secret reference.
type Ref struct {
	Provider string // empty means the whole chain
	Name     string
	Version  string
}

// String renders the reference in its parseable form.
func (r Ref) String() string {
	var b strings.Builder
	b.WriteString(RefPrefix)
	if r.Provider != "" {
		b.WriteString(r.Provider)
		b.WriteByte(':')
	}
	b.WriteString(r.Name)
	if r.Version != "" {
		b.WriteByte('@')
		b.WriteString(r.Version)
	}
	return b.String()
}

// ParseSecretRef parses a full-value reference:
//
//	secretref:<name>
//	secretref:<name>@<version>
//	secretref:<provider>:<name>[@<version>]
func ParseSecretRef(value string) (Ref, bool) {
	if !strings.HasPrefix(value, RefPrefix) {
		return Ref{}, false
	}
	body := strings.TrimPrefix(value, RefPrefix)
	if body == "" || strings.ContainsAny(body, " \t\r\n") {
		return Ref{}, false
	}

	var ref Ref
	if i := strings.LastIndexByte(body, '@'); i >= 0 {
		ref.Version = body[i+1:]
		body = body[:i]
		if ref.Version == "" {
			return Ref{}, false
		}
	}
	if provider, name, ok := strings.Cut(body, ":"); ok {
		if provider == "" {
			return Ref{}, false
		}
		ref.Provider = provider
		body = name
	}
	if body == "" {
		return Ref{}, false
	}
	ref.Name = body
	return ref, true
}

// Resolver replaces secret references in configuration values.
//
// Values are first expanded with ExpandEnvStrict. A value that is entirely a
// reference is replaced by the secret; references embedded in larger
// strings are replaced in place.
type Resolver struct {
	source Getter
	strict bool
}

// NewResolver creates a resolver backed by source. In strict mode an empty
// secret value is an error.
func NewResolver(source Getter, strict bool) *Resolver {
	return &Resolver{source: source, strict: strict}
}

// ResolveValue resolves environment variables and secret references in
// value.
func (r *Resolver) ResolveValue(ctx context.Context, value string) (string, error) {
	expanded, err := ExpandEnvStrict(value)
	if err != nil {
		return "", err
	}
	if r == nil {
		return expanded, nil
	}

	if ref, ok := ParseSecretRef(expanded); ok {
		return r.resolveRef(ctx, ref)
	}
	return r.resolveInline(ctx, expanded)
}

// ResolveSlice resolves each value in values.
func (r *Resolver) ResolveSlice(ctx context.Context, values []string) ([]string, error) {
	resolved := make([]string, len(values))
	for i, v := range values {
		out, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, err
		}
		resolved[i] = out
	}
	return resolved, nil
}

// ResolveMap resolves each value in input.
func (r *Resolver) ResolveMap(ctx context.Context, input map[string]string) (map[string]string, error) {
	if input == nil {
		return nil, nil
	}
	out := make(map[string]string, len(input))
	for k, v := range input {
		resolved, err := r.ResolveValue(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (r *Resolver) resolveRef(ctx context.Context, ref Ref) (string, error) {
	if r.source == nil {
		return "", ErrNoProviders
	}

	var opts []GetOption
	if ref.Version != "" {
		opts = append(opts, Version(ref.Version))
	}

	source := r.source
	if ref.Provider != "" {
		p, err := r.scoped(ref.Provider)
		if err != nil {
			return "", err
		}
		source = p
	}

	s, err := source.GetSecret(ctx, ref.Name, opts...)
	if err != nil {
		return "", err
	}
	if r.strict && s.Value == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyValue, ref)
	}
	return s.Value, nil
}

func (r *Resolver) scoped(provider string) (Getter, error) {
	switch src := r.source.(type) {
	case *Composite:
		if p := src.Provider(provider); p != nil {
			return p, nil
		}
	case *Provider:
		if src.Name() == provider {
			return src, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}

var inlineRefPattern = regexp.MustCompile(`secretref:[^\s]+`)

func (r *Resolver) resolveInline(ctx context.Context, value string) (string, error) {
	matches := inlineRefPattern.FindAllStringIndex(value, -1)
	if len(matches) == 0 {
		return value, nil
	}

	out := value
	for i := len(matches) - 1; i >= 0; i-- {
		start, end := matches[i][0], matches[i][1]

		ref, ok := ParseSecretRef(out[start:end])
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidRef, out[start:end])
		}
		resolved, err := r.resolveRef(ctx, ref)
		if err != nil {
			return "", err
		}

		// Replacing from the end keeps earlier indexes valid.
		out = out[:start] + resolved + out[end:]
	}
	return out, nil
}
