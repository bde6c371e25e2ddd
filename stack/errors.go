package stack

import "errors"

// ErrUnmapped is returned by Binder.BindSource when no loaded object's
// segment covers the requested address.
var ErrUnmapped = errors.New("stack: address not mapped to any loaded object")

// ErrNoDebugInfo is returned by Binder.BindSource when the owning
// object has no usable debug information, or none of its units covers
// the translated address.
var ErrNoDebugInfo = errors.New("stack: no debug info covers address")
