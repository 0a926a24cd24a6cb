package pkg

import "errors"

// Driver error taxonomy.
var (
	// ErrFraming indicates a malformed frame header (bad size or signature).
	ErrFraming = errors.New("framing error")

	// ErrDecode indicates a known message type with a malformed body.
	ErrDecode = errors.New("decode error")

	// ErrDeviceState indicates the device handle cannot host a session
	// (not opened, no configuration, or a required endpoint is missing).
	ErrDeviceState = errors.New("illegal device state")

	// ErrTransfer indicates a bulk transfer failed or reported a non-ok status.
	ErrTransfer = errors.New("transfer failed")

	// ErrShortTransfer indicates a transfer returned no data where a body was
	// promised by the preceding header.
	ErrShortTransfer = errors.New("short transfer")

	// ErrCircuitOpen indicates the session error ceiling was reached and the
	// session was force-closed.
	ErrCircuitOpen = errors.New("error ceiling reached")

	// ErrDeviceClosed indicates the device handle was closed.
	ErrDeviceClosed = errors.New("device closed")

	// ErrNoDevice indicates no supported device is present.
	ErrNoDevice = errors.New("device not present")

	// ErrInvalidState indicates an operation was attempted in the wrong
	// session state.
	ErrInvalidState = errors.New("invalid session state")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates a data overrun condition.
	ErrOverrun = errors.New("data overrun")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")
)

// TransferStatus is the completion status of a bulk transfer as reported
// by a backend.
type TransferStatus int

// Transfer statuses.
const (
	TransferStatusSuccess TransferStatus = iota
	TransferStatusError
	TransferStatusStall
	TransferStatusTimeout
	TransferStatusCancelled
	TransferStatusOverrun
	TransferStatusNoDevice
)

var transferStatuses = [...]struct {
	name string
	err  error
}{
	TransferStatusSuccess:   {"success", nil},
	TransferStatusError:     {"error", ErrTransfer},
	TransferStatusStall:     {"stall", ErrStall},
	TransferStatusTimeout:   {"timeout", ErrTimeout},
	TransferStatusCancelled: {"cancelled", ErrCancelled},
	TransferStatusOverrun:   {"overrun", ErrOverrun},
	TransferStatusNoDevice:  {"no-device", ErrNoDevice},
}

func (s TransferStatus) known() bool {
	return s >= 0 && int(s) < len(transferStatuses)
}

// String returns the status name.
func (s TransferStatus) String() string {
	if !s.known() {
		return "unknown"
	}
	return transferStatuses[s].name
}

// Error returns the sentinel for a failed status, or nil for success.
// Unknown statuses map to [ErrTransfer].
func (s TransferStatus) Error() error {
	if !s.known() {
		return ErrTransfer
	}
	return transferStatuses[s].err
}
