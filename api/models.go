package api

// BaseResponse is the envelope every endpoint answers with
type BaseResponse[T any] struct {
	Code    int    `json:"code" example:"200"`
	Message string `json:"message" example:"Operation successful"`
	Data    *T     `json:"data,omitempty"`
}

// SimpleResponse for operations without data return
type SimpleResponse = BaseResponse[interface{}]

// ErrorResponse carries a failed outcome plus its error code
type ErrorResponse struct {
	Code    int    `json:"code" example:"401"`
	Message string `json:"message" example:"credentials do not match"`
	Error   string `json:"error" example:"CREDENTIAL_MISMATCH"`
}

// LoginRequest is a credential claim
type LoginRequest struct {
	Username string `json:"username" binding:"required" example:"alice"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember" example:"true"`
}

// LoginResponse carries the issued session token and the resolved identity
type LoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id" example:"user123"`
	Username string `json:"username" example:"alice"`
	GroupID  string `json:"group_id,omitempty" example:"editors"`
}

// SessionResponse reports the reconciled login state of the request
type SessionResponse struct {
	LoggedIn bool   `json:"logged_in"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// ResetRequest asks for new generated credentials
type ResetRequest struct {
	Username string `json:"username" binding:"required" example:"alice"`
}

// ResetResponse returns the generated credentials for delivery
type ResetResponse struct {
	Password      string `json:"password"`
	ActivationKey string `json:"activation_key"`
}

// PasswordRequest sets a caller-chosen password
type PasswordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

// CheckRequest asks whether an action is permitted for a user
type CheckRequest struct {
	Component string `json:"component" binding:"required" example:"blog"`
	View      string `json:"view,omitempty" example:"index"`
	Task      string `json:"task,omitempty"`
	UserID    string `json:"user_id,omitempty" example:"user123"`
}

// CheckResponse is the authorization verdict
type CheckResponse struct {
	Allowed bool `json:"allowed"`
}

// APIAuthResponse reports the authenticated API principal
type APIAuthResponse struct {
	Method   string `json:"method" example:"blog.index"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Public   bool   `json:"public"`
}
