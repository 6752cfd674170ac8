package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/assetflow/pkg/models"
)

type contextKey string

const (
	keyPrefixKey contextKey = "key_prefix"
	apiKeyKey    contextKey = "api_key"
)

func setKeyPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, keyPrefixKey, prefix)
}

func getKeyPrefix(r *http.Request) (string, bool) {
	prefix, ok := r.Context().Value(keyPrefixKey).(string)
	return prefix, ok
}

// WithAPIKey stores the key that authenticated the request in ctx.
func WithAPIKey(ctx context.Context, key *models.APIKey) context.Context {
	return context.WithValue(ctx, apiKeyKey, key)
}

// GetAPIKey returns the key that authenticated r.
func GetAPIKey(r *http.Request) (*models.APIKey, bool) {
	key, ok := r.Context().Value(apiKeyKey).(*models.APIKey)
	return key, ok && key != nil
}

// GetKeyName returns the name of the API key that authenticated r.
func GetKeyName(r *http.Request) (string, bool) {
	key, ok := GetAPIKey(r)
	if !ok {
		return "", false
	}
	return key.Name, true
}

func getScopes(r *http.Request) []string {
	if key, ok := GetAPIKey(r); ok {
		return key.Scopes
	}
	return nil
}

// ExportedKeyPrefixKey returns the context key for key_prefix (for testing).
func ExportedKeyPrefixKey() contextKey {
	return keyPrefixKey
}
