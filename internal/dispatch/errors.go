package dispatch

import "errors"

// Transport-side error kinds, per spec §7.
var (
	ErrTransportTimeout             = errors.New("dispatch: transport timeout")
	ErrTransportNoHealthyServers    = errors.New("dispatch: no healthy servers available")
	ErrTransportAllServersUnreachable = errors.New("dispatch: all servers unreachable")
)
