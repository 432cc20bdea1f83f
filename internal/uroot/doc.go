// SPDX-License-Identifier: MPL-2.0

// Package uroot provides the in-process file utilities used by the build's
// shell runner, so listing, renaming and removing build outputs behave the
// same on every host.
//
// mv, rm and mkdir wrap u-root's pkg/core implementations. find is a small
// custom implementation supporting "-type" and "-name" with sorted output,
// which keeps generated-class discovery deterministic.
//
// Errors from these utilities carry a "[uroot] <cmd>:" prefix.
package uroot
