// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include environment variable management (MustSetenv),
// file operations (MustWriteFile, MustMkdirAll) and a builder for
// throwaway Gradle project trees (NewProject).
package testutil
