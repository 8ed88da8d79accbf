// Package errors provides the classified error primitives used across buildwatch.
//
// Three error families matter to callers:
//   - CategoryConfig: anything wrong with a marker file (unknown keys, bad
//     shapes, unresolved or cyclic pointers, missing builder references).
//     Fatal to the whole file; no partial builder set is ever constructed.
//   - CategoryParse: a malformed compiler-output line. Contained to that line,
//     logged, never surfaced to the user, never aborts a build attempt.
//   - CategoryProcess: spawn/kill plumbing failures. Note that a compiler's
//     nonzero exit status is deliberately NOT an error in this taxonomy.
//
// Example usage:
//
//	err := errors.ConfigError("builder not found").
//		WithContext("dir", dirPath).
//		WithContext("builder", name).
//		Build()
package errors
