package transfer

// ConnectAccountRequest registers a publishing identity whose OAuth exchange
// already happened. AccountID is the team account to publish for, empty for
// the personal scope.
type ConnectAccountRequest struct {
	AccountID         string `json:"account_id"`
	PlatformAccountID string `json:"platform_account_id" validate:"required,max=128"`
	Username          string `json:"username" validate:"required,max=128"`
	AccessToken       string `json:"access_token" validate:"required"`
	ExpiresIn         int64  `json:"expires_in" validate:"required,min=60"`
}
