// Package mask keeps the per-child masking state of the Mask Cascade
// Processor. The state lives on its own journal topic and is never shared
// with the Override Store.
package mask
