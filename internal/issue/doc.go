// SPDX-License-Identifier: MPL-2.0

// Package issue holds hotpatch's user-facing errors: ActionableError carries
// the failed operation with suggestions, and the issue catalog holds
// Markdown troubleshooting guides rendered with glamour.
package issue
