package cache

import (
	"fmt"
	"time"
)

// RateLimitKey names the counter for one API key prefix in the one-minute
// window that contains at.
func RateLimitKey(keyPrefix string, at time.Time) string {
	return fmt.Sprintf("assetflow:ratelimit:%s:%d", keyPrefix, at.Unix()/60)
}
