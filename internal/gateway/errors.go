package gateway

import "errors"

// ErrNoServer is returned (wrapped) when the multiplexer binary reports that
// no server is running. Callers listing sessions treat this as an empty
// sequence rather than a failure; callers of other operations propagate it.
var ErrNoServer = errors.New("no server running")

// ErrNoCurrentClient is returned (wrapped) by SwitchClient when the
// multiplexer has no attached client to switch. Callers MAY treat this as
// non-fatal if they have another attach path.
var ErrNoCurrentClient = errors.New("no current client")
