// Package logging provides concrete implementations of the atomdeploy.Logger interface.
//
// Available implementations:
//   - ConsoleLogger: Writes formatted messages to stderr (or any writer) with thread-safe output
//   - NullLogger: Discards all messages (used for --quiet and in tests)
//
// All logger implementations are safe for concurrent use by multiple goroutines.
package logging
