package mqtt

import "errors"

// ErrAckTimeout reports that a crew did not acknowledge an order in time.
var ErrAckTimeout = errors.New("order not acknowledged")
