// Package vm provides high-level VM lifecycle management.
// It wraps the low-level hypervisor driver with working-disk handling,
// console session setup, and persistent run state.
package vm
