package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrConnectorNotFound      = errors.New("no metadata extractor available")
	ErrConnectionFailed       = errors.New("connection test failed")
	ErrRunInProgress          = errors.New("a sync run is already in progress for this data source")
	ErrCredentialsKeyMismatch = errors.New("data source credentials were encrypted with a different key")
)
