package detection

import "context"

type contextKey string

const accessTokenKey contextKey = "access_token"

// WithAccessToken attaches the upstream bearer token that requests made with
// ctx will forward.
func WithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, accessTokenKey, token)
}

// AccessToken returns the token set by WithAccessToken.
func AccessToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey).(string)
	return token, ok && token != ""
}
