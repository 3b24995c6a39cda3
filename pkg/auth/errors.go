package auth

import "errors"

// Authentication error definitions
var (
	ErrInvalidMethod        = errors.New("invalid authentication method")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrConfigurationInvalid = errors.New("authentication configuration invalid")
	ErrConnectionFailed     = errors.New("connection failed")
)
