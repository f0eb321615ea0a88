package openvpn

import (
	"errors"
	"fmt"
)

// ErrMalformedOutput marks sacli output that could not be parsed.
var ErrMalformedOutput = errors.New("malformed sacli output")

// GatewayError is returned for any failed sacli invocation: non-zero exit,
// timeout, or unparseable output.
type GatewayError struct {
	Op       string
	Username string
	Err      error
}

func (e *GatewayError) Error() string {
	if e.Username != "" {
		return fmt.Sprintf("sacli %s (user %s): %v", e.Op, e.Username, e.Err)
	}
	return fmt.Sprintf("sacli %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err came from the gateway.
func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}
