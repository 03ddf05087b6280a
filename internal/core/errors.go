package core

import (
	"errors"

	"github.com/git-pkgs/addinaudit/client"
)

// ErrNotFound is returned when a package or version is not found. It is the
// same sentinel as client.ErrNotFound so HTTP 404s match too.
var ErrNotFound = client.ErrNotFound

// ErrNoDecoratedMethod marks a package that could not be classified.
var ErrNoDecoratedMethod = errors.New("does not contain any decorated method")

// NotFoundError wraps ErrNotFound with additional context.
type NotFoundError = client.NotFoundError
