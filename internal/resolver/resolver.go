// Package resolver maps opaque group participant handles (@lid) to directly
// addressable contact handles (@c.us).
//
// The only known way to obtain the mapping is reading the WhatsApp Web
// client's in-memory contact directory, which means driving a live browser
// session. That mechanism is fragile by nature, so it lives entirely behind
// the Resolver interface; nothing else in the system depends on how a
// resolution is produced.
package resolver

import (
	"context"
	"errors"
)

// ErrNotFound means the contact directory has no mapping for the handle.
// Callers surface this as a non-fatal, reportable condition.
var ErrNotFound = errors.New("no contact mapping found")

// Resolver resolves a participant handle to a contact handle.
type Resolver interface {
	Resolve(ctx context.Context, participant string) (string, error)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, participant string) (string, error)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, participant string) (string, error) {
	return f(ctx, participant)
}
