package wire

import "errors"

// ErrShort is returned (internally) when a decode operation would read
// past the end of the data available so far. Callers convert it into
// "no complete message yet" rather than a hard decode failure.
var ErrShort = errors.New("wire: not enough data")
