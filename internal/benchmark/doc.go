// SPDX-License-Identifier: MPL-2.0

// Package benchmark holds benchmarks of the build hot paths, used to collect
// PGO profiles:
//   - configuration loading (CUE schema validation)
//   - manifest parsing and module graph resolution
//   - round scheduling
//   - fingerprint diffing and import classification
//
// To generate a profile:
//
//	go test -run=^$ -bench=. -cpuprofile=default.pgo ./internal/benchmark
package benchmark
