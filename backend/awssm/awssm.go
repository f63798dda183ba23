// Package awssm serves secrets from AWS Secrets Manager.
//
// A requested version is sent as a version stage when it names one
// (AWSCURRENT, AWSPREVIOUS, AWSPENDING) and as a version id otherwise.
package awssm

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"

	"github.com/jonwraymond/secretops/secret"
)

const (
	// DefaultName is the backend name used when Config.Name is empty.
	DefaultName = "awssm"

	// ProbeSecretID is described by Ping. It is not expected to exist.
	ProbeSecretID = "secretops/health-probe"
)

// Version stages.
const (
	StageCurrent  = "AWSCURRENT"
	StagePrevious = "AWSPREVIOUS"
	StagePending  = "AWSPENDING"
)

// SecretsManagerAPI is the subset of the Secrets Manager client the backend
// uses.
type SecretsManagerAPI interface {
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	DescribeSecret(
		ctx context.Context,
		params *secretsmanager.DescribeSecretInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.DescribeSecretOutput, error)
}

// Config configures the backend.
type Config struct {
	Name   string
	Region string
	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string
	// Prefix is prepended to every secret id.
	Prefix string

	// Client replaces the SDK client built from the default credential
	// chain.
	Client SecretsManagerAPI
}

// Backend fetches secrets from Secrets Manager.
type Backend struct {
	name   string
	prefix string
	api    SecretsManagerAPI
}

// New creates a backend. Without cfg.Client the SDK configuration is
// loaded from the environment.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	api := cfg.Client
	if api == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("awssm: load AWS config: %w", err)
		}
		api = secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
		})
	}

	return &Backend{name: cfg.Name, prefix: cfg.Prefix, api: api}, nil
}

// Name implements secret.Backend.
func (b *Backend) Name() string {
	return b.name
}

// Fetch implements secret.Backend.
func (b *Backend) Fetch(ctx context.Context, name, version string) (secret.Secret, error) {
	input := &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(b.prefix + name),
	}
	switch {
	case version == "" || version == "latest":
	case IsStage(version):
		input.VersionStage = aws.String(version)
	default:
		input.VersionId = aws.String(version)
	}

	out, err := b.api.GetSecretValue(ctx, input)
	if err != nil {
		return secret.Secret{}, classify(ctx, err)
	}

	s := secret.Secret{Version: aws.ToString(out.VersionId)}
	switch {
	case out.SecretString != nil:
		s.Value = *out.SecretString
	case out.SecretBinary != nil:
		s.Value = string(out.SecretBinary)
	}
	return s, nil
}

// Ping describes ProbeSecretID. A not-found answer proves the service is
// reachable and the credentials are accepted.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.api.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(ProbeSecretID),
	})
	if err == nil {
		return nil
	}
	err = classify(ctx, err)
	if secret.KindOf(err) == secret.KindNotFound {
		return nil
	}
	return err
}

// IsStage reports whether v names a version stage rather than a version id.
func IsStage(v string) bool {
	switch v {
	case StageCurrent, StagePrevious, StagePending:
		return true
	default:
		return false
	}
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return ctxErr
	}

	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return secret.NewError(secret.KindNotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return secret.NewError(KindForCode(apiErr.ErrorCode()), err)
	}

	// No API error means the request never got an answer.
	return secret.NewError(secret.KindUnavailable, err)
}

// KindForCode maps a Secrets Manager error code to a failure kind.
func KindForCode(code string) secret.Kind {
	switch code {
	case "ResourceNotFoundException":
		return secret.KindNotFound
	case "AccessDeniedException",
		"UnrecognizedClientException",
		"InvalidClientTokenId",
		"ExpiredTokenException",
		"DecryptionFailure",
		"InvalidSignatureException":
		return secret.KindUnauthorized
	case "ThrottlingException",
		"TooManyRequestsException",
		"InternalServiceError",
		"InternalFailure",
		"ServiceUnavailable",
		"RequestTimeout":
		return secret.KindUnavailable
	default:
		return secret.KindUnknown
	}
}
