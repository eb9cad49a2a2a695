// Package common provides shared constants, errors, paths and logging
// used throughout the VPN+RDP Manager application.
//
//   - Constants: timeouts, intervals, file names and client binary names
//   - Errors: sentinel errors for the failure taxonomy plus OpError for context
//   - Logger: leveled logging to stderr and a size-rotated file
//   - Paths: config directory helpers and owner-only atomic writes
//
// # Usage
//
//	common.LogInfo("Connecting to %s", profileName)
//
//	if errors.Is(err, common.ErrConfigNotFound) {
//	    // the profile points at a missing VPN configuration
//	}
package common
