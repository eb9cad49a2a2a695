// Package common provides shared constants, types, and utilities
// used across the VPN+RDP Manager application.
package common

import "errors"

// Sentinel errors for orchestration. Check them with errors.Is.
var (
	// Subprocess and connection errors.
	ErrConfigNotFound         = errors.New("vpn configuration not found")
	ErrBinaryNotFound         = errors.New("client binary not found")
	ErrSubprocessTimeout      = errors.New("subprocess timed out")
	ErrSubprocessNonZeroExit  = errors.New("subprocess exited with non-zero status")
	ErrUnparsableOutput       = errors.New("unparsable subprocess output")
	ErrProcessDiedPrematurely = errors.New("process exited during grace window")
	ErrCanceled               = errors.New("connection attempt canceled")
	ErrAlreadyConnected       = errors.New("connection already active")
	ErrNotConnected           = errors.New("no active connection")

	// Profile errors.
	ErrProfileNotFound = errors.New("profile not found")
	ErrDuplicateName   = errors.New("profile name already exists")
	ErrInvalidProfile  = errors.New("invalid profile data")

	// Credential errors.
	ErrCredentialDeclined = errors.New("credential entry declined")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrVaultUnavailable   = errors.New("credential vault unavailable")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")

	// ErrAPIRefused means the status API rejected the request's token or origin.
	ErrAPIRefused = errors.New("status API refused the request")
)

// OpError records the operation and profile an error happened in.
type OpError struct {
	Op      string
	Profile string
	Err     error
}

func (e *OpError) Error() string {
	if e.Profile == "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Profile + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// WrapOp wraps err with the operation and profile it came from.
// It returns nil when err is nil.
func WrapOp(op, profile string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Profile: profile, Err: err}
}
