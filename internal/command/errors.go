package command

import "errors"

var (
	// ErrTransportOpen means the serial port could not be opened.
	ErrTransportOpen = errors.New("transport open failed")
	// ErrTransportTimeout means the remote did not answer within the bound.
	ErrTransportTimeout = errors.New("timeout")
	// ErrTransportProtocol means the remote answered with a failure status.
	ErrTransportProtocol = errors.New("transport protocol failure")
	// ErrInvalidCommand means the code is not one the head understands.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrDataOutOfRange means the data does not fit the command's range.
	ErrDataOutOfRange = errors.New("data out of range")
	// ErrCancelled marks cooperative termination. It is not a fault.
	ErrCancelled = errors.New("cancelled")
)
