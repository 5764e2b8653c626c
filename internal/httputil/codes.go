package httputil

// Machine-readable error codes returned alongside human-readable messages.
// Clients branch on these, never on message text.
const (
	// Generic
	CodeInternalError      = "internal_error"
	CodeInvalidRequestBody = "invalid_request_body"
	CodeTooManyRequests    = "too_many_requests"
	CodeCooldownActive     = "cooldown_active"
	CodeStoreUnavailable   = "store_unavailable"
	CodeUnauthorized       = "unauthorized"

	// Authentication
	CodeMissingAuth         = "missing_auth"
	CodeInvalidAuthHeader   = "invalid_auth_header"
	CodeInvalidToken        = "invalid_token"
	CodeTokenExpired        = "token_expired"
	CodeInvalidTokenUserID  = "invalid_token_user_id"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeEmailNotVerified    = "email_not_verified"
	CodeRefreshTokenRequired = "refresh_token_required"
	CodeInvalidRefreshToken = "invalid_refresh_token"

	// Registration / verification
	CodeEmailAlreadyExists        = "email_already_exists"
	CodeEmailRequired             = "email_required"
	CodePasswordRequired          = "password_required"
	CodePasswordTooShort          = "password_too_short"
	CodeInvalidEmailFormat        = "invalid_email_format"
	CodeVerificationTokenRequired = "verification_token_required"
	CodeVerificationFailed        = "verification_failed"
	CodeAlreadyVerified           = "already_verified"
	CodeInvalidResetToken         = "invalid_reset_token"

	// OAuth connections
	CodeUnknownProvider           = "unknown_provider"
	CodeInvalidState              = "invalid_state"
	CodeProviderExchangeFailed    = "provider_exchange_failed"
	CodeReauthorizationRequired   = "reauthorization_required"

	// Onboarding
	CodeUnknownStep          = "unknown_step"
	CodeStepOutOfOrder       = "step_out_of_order"
	CodeStepNotSkippable     = "step_not_skippable"
	CodeInvalidStepPayload   = "invalid_step_payload"
	CodeBusinessTypeNotFound = "business_type_not_found"
)
