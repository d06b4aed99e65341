// Package alarm contains the domain model of the effective-state pipeline.
//
// It defines alarm registrations and their class defaults, the closed set of
// override kinds as a tagged union, activation transitions and the composite
// State published to users. Everything here is pure: State is always derived
// with Render and never stored independently of its inputs.
package alarm
