package main

// Exit codes for CLI operations
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error
	ExitConfigError = 2 // Missing or invalid configuration
	ExitCheckFailed = 3 // One or more health probes failed
)
