// Package permission defines the closed set of permission types, the fixed-width
// FlagSet they are encoded into, and the layer resolution rule.
//
// The package is pure: no I/O, no clocks, no global mutable state. Bit positions are
// fixed at build time by the Type constants and are persisted by the stores, so new
// types may only be appended.
package permission
