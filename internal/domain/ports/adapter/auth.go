package adapter

// TokenValidator resolves an opaque access token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (userID string, err error)
}
