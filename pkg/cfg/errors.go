package cfg

import "github.com/pkg/errors"

// ErrConfiguration is returned for missing or malformed configuration
// fields. Configuration problems surface at load time and are never
// recovered from.
var ErrConfiguration = errors.New("invalid configuration")
