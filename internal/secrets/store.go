package secrets

import (
	"context"
	"sync"

	"pgroute/internal/route"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/cockroachdb/errors"
)

// API is the part of the Secrets Manager client the store needs.
type API interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Store fetches secrets and keeps them for the lifetime of one run.
type Store struct {
	api   API
	mu    sync.Mutex
	cache map[string]string
}

func NewStore(api API) *Store {
	return &Store{api: api, cache: make(map[string]string)}
}

// LoadAWS resolves the default credential chain for region.
func LoadAWS(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "failed to load AWS config")
	}
	return cfg, nil
}

func NewAWSStore(cfg aws.Config) *Store {
	return NewStore(secretsmanager.NewFromConfig(cfg))
}

// Raw returns the secret string, fetching it at most once.
func (s *Store) Raw(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cache[name]; ok {
		return v, nil
	}

	out, err := s.api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(name)})
	if err != nil {
		return "", errors.Wrapf(err, "failed to read secret %s", name)
	}
	if out.SecretString == nil {
		return "", errors.Mark(errors.Newf("secret %s has no string value", name), ErrMalformed)
	}
	s.cache[name] = *out.SecretString
	return *out.SecretString, nil
}

// Payload fetches and parses one database payload.
func (s *Store) Payload(ctx context.Context, name, key string) (*Payload, error) {
	raw, err := s.Raw(ctx, name)
	if err != nil {
		return nil, err
	}
	p, err := Parse(raw, key)
	if err != nil {
		return nil, errors.Wrapf(err, "secret %s", name)
	}
	return p, nil
}

// RDSTokens signs short-lived IAM auth tokens in place of passwords.
type RDSTokens struct {
	Region      string
	Credentials aws.CredentialsProvider
}

func NewRDSTokens(cfg aws.Config) *RDSTokens {
	return &RDSTokens{Region: cfg.Region, Credentials: cfg.Credentials}
}

func (r *RDSTokens) Token(ctx context.Context, ep route.Endpoint) (string, error) {
	token, err := auth.BuildAuthToken(ctx, ep.Address(), r.Region, ep.User, r.Credentials)
	if err != nil {
		return "", errors.Wrapf(err, "failed to build auth token for %s", ep.Address())
	}
	return token, nil
}
