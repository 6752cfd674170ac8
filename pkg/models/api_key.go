package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates a worker pool, a job client or an operator.
// Raw keys are shown once at creation; only the bcrypt hash is stored.
type APIKey struct {
	ID         uuid.UUID  `db:"id"           json:"id"`
	Name       string     `db:"name"         json:"name"`
	KeyHash    string     `db:"key_hash"     json:"-"`
	KeyPrefix  string     `db:"key_prefix"   json:"key_prefix"`
	Scopes     []string   `db:"scopes"       json:"scopes"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `db:"deleted_at"   json:"-"`
	CreatedAt  time.Time  `db:"created_at"   json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"   json:"updated_at"`
}

// API key scopes. Worker keys reach the broker routes, jobs keys the job API;
// admin reaches everything.
const (
	ScopeWorker = "worker"
	ScopeJobs   = "jobs"
	ScopeAdmin  = "admin"
)

// ValidScope reports whether s is a known scope.
func ValidScope(s string) bool {
	switch s {
	case ScopeWorker, ScopeJobs, ScopeAdmin:
		return true
	}
	return false
}

// Grants reports whether the key may act under scope.
func (k *APIKey) Grants(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}
