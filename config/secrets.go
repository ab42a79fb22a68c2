package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrSecretNotFound is returned when a secret is not set.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore resolves secrets by key.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, def string) string
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore { return &EnvironmentSecretStore{} }

func (EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%s: %w", key, ErrSecretNotFound)
	}
	return v, nil
}

func (s EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, def string) string {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def
	}
	return v
}

// Secret keys consulted by LoadSecretsFromEnv.
const (
	SecretRedisPassword = "DUELKIT_SECRET_REDIS_PASSWORD"
	SecretSQLDSN        = "DUELKIT_SECRET_SQL_DSN"
	SecretAPIKeys       = "DUELKIT_SECRET_API_KEYS"
)

// LoadSecretsFromEnv fills credentials that should not live in config files.
func LoadSecretsFromEnv(ctx context.Context, cfg *Config, store SecretStore) error {
	if store == nil {
		store = NewEnvironmentSecretStore()
	}
	resolve := func(key string, apply func(string)) error {
		v, err := store.Get(ctx, key)
		switch {
		case errors.Is(err, ErrSecretNotFound):
			return nil
		case err != nil:
			return err
		}
		apply(v)
		return nil
	}
	if err := resolve(SecretRedisPassword, func(v string) { cfg.Storage.Redis.Password = v }); err != nil {
		return err
	}
	if err := resolve(SecretSQLDSN, func(v string) { cfg.Storage.SQL.DSN = v }); err != nil {
		return err
	}
	return resolve(SecretAPIKeys, func(v string) {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		cfg.Security.APIKeys = keys
	})
}
