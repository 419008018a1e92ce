// Package deps resolves external binaries on PATH and reports their
// availability.
package deps
