package cache

import "fmt"

// SessionKey is where the session for a gateway token prefix is stored.
func SessionKey(tokenPrefix string) string {
	return fmt.Sprintf("user:session:%s", tokenPrefix)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
