package ibclient

import "errors"

var (
	// ErrConnectTimeout is returned by Connect when the connection
	// acknowledgement does not arrive within the configured timeout. The
	// receive goroutine may still be running; call Disconnect to clean up.
	ErrConnectTimeout = errors.New("ibclient: timed out waiting for connection ack")

	// ErrRequestTimeout is returned by request methods when no terminal
	// event arrived within the configured timeout. The partial table
	// accumulated so far is still returned alongside the error.
	ErrRequestTimeout = errors.New("ibclient: timed out waiting for response")

	// ErrNotConnected is returned by request methods called before Connect.
	ErrNotConnected = errors.New("ibclient: not connected")

	// ErrInvalidArgument wraps all request-parameter validation failures.
	// Validation happens before anything is sent on the transport.
	ErrInvalidArgument = errors.New("ibclient: invalid argument")
)

// fatalCode reports whether a TWS error code should abort a pending request.
// Codes 2000-9999 are informational notices (market data farm status and the
// like) and 10167 means delayed data was substituted; both are logged and
// otherwise ignored.
func fatalCode(code int64) bool {
	if code >= 2000 && code < 10000 {
		return false
	}
	if code == 10167 {
		return false
	}
	return true
}
