package store

import "github.com/listenupapp/listenup-reader/internal/errors"

// Sentinel errors returned by store implementations. They match the
// coded errors in internal/errors, so errors.Is(err, errors.ErrNotFound)
// holds for ErrNotFound.
var (
	ErrNotFound      = &errors.Error{Code: errors.CodeNotFound, Message: "resource not found"}
	ErrAlreadyExists = &errors.Error{Code: errors.CodeAlreadyExists, Message: "resource already exists"}
	ErrInvalidInput  = &errors.Error{Code: errors.CodeValidation, Message: "invalid input"}
)
