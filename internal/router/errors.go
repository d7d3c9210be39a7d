package router

import "errors"

var (
	ErrUnsupportedModel     = errors.New("Unsupported model prefix") //nolint:staticcheck
	ErrBackendNotConfigured = errors.New("backend is not configured")
)
