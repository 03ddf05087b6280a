package core

import (
	"github.com/git-pkgs/addinaudit/client"
)

// Type aliases so the registry adapter only imports core.
type (
	Client     = client.Client
	URLBuilder = client.URLBuilder
)

// DefaultClient returns the shared HTTP client defaults.
var DefaultClient = client.DefaultClient
