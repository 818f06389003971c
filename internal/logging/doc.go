// Package logging configures structured slog output for corpusindex.
// Logs go to stderr by default; with a file path set they are also written
// to a size-rotated file under ~/.corpusindex/logs/.
package logging
