// Package compiler turns Flux source text into executable programs.
//
// The pipeline has four stages:
//   - Normalize maps raw bytes onto a padded sentinel/non-sentinel buffer
//   - Extract finds two-character words with branchless mark, pad, truncate
//     and sieve passes
//   - Resolve classifies every possible word as builtin, undefined or user
//   - Inline (or Link) flattens user words into executable instructions
//
// Scan and Disassemble serve tooling: editors, listings and the CLI.
package compiler
