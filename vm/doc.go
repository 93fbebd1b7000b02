// Package vm implements the Flux lockstep lane executor.
//
// This package contains:
//   - Per-lane data stacks and the shared jump stack
//   - The shared buffer pool lanes read and write
//   - A reusable barrier with poison release
//   - The executor that runs one goroutine per lane
package vm
