package secret

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ErrMissingEnv is returned for ${VAR} references to unset variables.
var ErrMissingEnv = errors.New("secret: missing required environment variables")

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LookupFunc reports the value of an environment variable.
type LookupFunc func(key string) (string, bool)

// ExpandEnvStrict is ExpandEnvFunc over the process environment.
func ExpandEnvStrict(s string) (string, error) {
	return ExpandEnvFunc(s, os.LookupEnv)
}

// ExpandEnvFunc expands $VAR and ${VAR} in s using lookup.
//
// A braced reference to an unset variable is an error naming every missing
// variable. A bare $VAR that is unset expands to "". $$ is a literal $.
func ExpandEnvFunc(s string, lookup LookupFunc) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	mapping := func(key string) string {
		v, _ := lookup(key)
		return v
	}

	missing := make(map[string]struct{})
	segments := strings.Split(s, "$$")
	for i, seg := range segments {
		for _, m := range bracedVar.FindAllStringSubmatch(seg, -1) {
			if _, ok := lookup(m[1]); !ok {
				missing[m[1]] = struct{}{}
			}
		}
		segments[i] = os.Expand(seg, mapping)
	}

	if len(missing) > 0 {
		names := slices.Sorted(maps.Keys(missing))
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(names, ", "))
	}
	return strings.Join(segments, "$"), nil
}
