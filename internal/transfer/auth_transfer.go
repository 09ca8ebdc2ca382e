package transfer

import "github.com/golang-jwt/jwt/v5"

// CustomClaims is the session token payload. TeamIDs are the teams the user
// belonged to at sign-in and only bias the default scope; they are never
// trusted for authorization.
type CustomClaims struct {
	UserID  string   `json:"user_id"`
	TeamIDs []string `json:"team_ids,omitempty"`
	jwt.RegisteredClaims
}
