package main

// Normally generated at build time.
var (
	Version = "0.1.0"
	GitInfo = "unknown"
)
