package wa

import "errors"

// ErrNotResolved is returned by ResolveContact when the external client has
// no directly addressable handle for a participant.
var ErrNotResolved = errors.New("contact not resolved")

// ErrNotConnected is returned for operations attempted while the bridge
// connection is down.
var ErrNotConnected = errors.New("bridge not connected")
