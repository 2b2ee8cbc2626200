// Quotaguard is a sliding window rate limiter for LLM traffic.
//
// It admits requests against tiers of limits keyed by user, model and model
// class, kept either in process or in Redis so that every replica shares one
// window.
//
// Usage:
//
//	# Start the limiter with its ops server
//	quotaguard serve --config quotaguard.yaml
//
//	# Ask for one admission decision
//	quotaguard check --user alice --model gpt-4
//
//	# Show how much of each window a user has consumed
//	quotaguard usage --user alice --model gpt-4
//
//	# Clear a user's state in the store
//	quotaguard reset --user alice
//
//	# Hammer a local limiter to see the cap hold
//	quotaguard simulate --workers 16 --requests 10000 --max-requests 100
package main

import "os"

func main() {
	os.Exit(Execute())
}
