package secret

// Policy decides which failure kinds abort a composite lookup instead of
// falling through to the next provider.
type Policy interface {
	IsCritical(kind Kind, provider string) bool
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(kind Kind, provider string) bool

// IsCritical calls f.
func (f PolicyFunc) IsCritical(kind Kind, provider string) bool {
	return f(kind, provider)
}

// KindPolicy treats a fixed set of kinds as critical for every provider.
type KindPolicy struct {
	mask uint8
}

// CriticalKinds returns a policy under which exactly kinds are critical.
func CriticalKinds(kinds ...Kind) KindPolicy {
	var p KindPolicy
	for _, k := range kinds {
		p.mask |= 1 << uint(k)
	}
	return p
}

// DefaultPolicy treats KindUnauthorized as critical and everything else as
// recoverable.
func DefaultPolicy() Policy {
	return CriticalKinds(KindUnauthorized)
}

// IsCritical reports whether kind is in the set.
func (p KindPolicy) IsCritical(kind Kind, _ string) bool {
	return p.mask&(1<<uint(kind)) != 0
}

// Kinds returns the critical kinds in Kind order.
func (p KindPolicy) Kinds() []Kind {
	var out []Kind
	for _, k := range []Kind{KindUnknown, KindNotFound, KindUnauthorized, KindUnavailable} {
		if p.IsCritical(k, "") {
			out = append(out, k)
		}
	}
	return out
}
