// Package fs provides the filesystem abstraction behind kv.LocalStore and a
// fault-injecting wrapper for tests.
//
//   - [LocalFS]: production implementation using the os package
//   - [FaultyFS]: injects write, sync or rename failures by file name
//
// Operations take no context.Context; local file calls are not interruptible
// at the syscall level.
package fs
