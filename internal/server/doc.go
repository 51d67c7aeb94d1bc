// Package server implements the relaychat server core.
//
// The implementation is organized into specialized files for configuration,
// hub management, sessions, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows.
package server
