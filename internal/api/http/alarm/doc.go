// Package alarm implements the HTTP transport for the alarm processor.
//
// It decodes intake records (classes, registrations, activations and
// operator overrides), hands them to a provided business-service interface
// and serves the effective state back as JSON.
package alarm
