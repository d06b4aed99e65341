// Package common holds helpers shared by several services.
//
// It detects the producer identity (hostname/username) stamped on every
// journal record and provides a small gRPC health client with timeouts.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
