package secret_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/jonwraymond/secretops/secret"
)

func TestExpandEnvStrict(t *testing.T) {
	t.Setenv("SECRETOPS_A", "alpha")
	t.Setenv("SECRETOPS_EMPTY", "")

	tests := []struct {
		in   string
		want string
	}{
		{"${SECRETOPS_A}", "alpha"},
		{"$SECRETOPS_A-x", "alpha-x"},
		{"pre-${SECRETOPS_EMPTY}-post", "pre--post"},
		{"$$SECRETOPS_A", "$SECRETOPS_A"},
		{"no vars", "no vars"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := secret.ExpandEnvStrict(tt.in)
			if err != nil {
				t.Fatalf("ExpandEnvStrict() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnvStrict(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandEnvStrict_Missing(t *testing.T) {
	_, err := secret.ExpandEnvStrict("${SECRETOPS_MISSING_B} ${SECRETOPS_MISSING_A}")
	if !errors.Is(err, secret.ErrMissingEnv) {
		t.Fatalf("error = %v, want ErrMissingEnv", err)
	}
	if !strings.Contains(err.Error(), "SECRETOPS_MISSING_A, SECRETOPS_MISSING_B") {
		t.Errorf("error = %q, want sorted names", err)
	}
}

func TestExpandEnvFunc(t *testing.T) {
	env := map[string]string{"HOST": "db", "PORT": "5432"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "${HOST}:${PORT}", want: "db:5432"},
		{in: "$HOST/$UNSET/x", want: "db//x"},
		{in: "cost $$5", want: "cost $5"},
		{in: "$$$HOST", want: "$db"},
		{in: "$$$$", want: "$$"},
		{in: "trailing$", want: "trailing$"},
		{in: "${UNSET}", wantErr: true},
		{in: "$${UNSET}", want: "${UNSET}"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := secret.ExpandEnvFunc(tt.in, lookup)
			if tt.wantErr {
				if !errors.Is(err, secret.ErrMissingEnv) {
					t.Fatalf("error = %v, want ErrMissingEnv", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExpandEnvFunc() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExpandEnvFunc(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
