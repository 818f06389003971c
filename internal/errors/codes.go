// Package errors provides structured error handling for corpusindex.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (local files, object store reads)
//   - 3XX: Backend errors (object metadata, cache, embedding provider)
//   - 4XX: Validation errors
//   - 5XX: Pipeline and internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and object read errors.
	CategoryIO Category = "IO"
	// CategoryBackend indicates errors reported by a remote collaborator.
	CategoryBackend Category = "BACKEND"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates pipeline and unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates an unrecoverable error that aborts the run.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates a skipped item; the run continues.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeFileNotFound = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileRead     = "ERR_202_FILE_READ"

	// Backend errors (300-399)
	ErrCodeMetadataFetch    = "ERR_301_METADATA_FETCH"
	ErrCodeCacheUnprocessed = "ERR_302_CACHE_UNPROCESSED"
	ErrCodeCacheBackend     = "ERR_303_CACHE_BACKEND"
	ErrCodeEmbeddingBackend = "ERR_304_EMBEDDING_BACKEND"
	ErrCodeVectorBackend    = "ERR_305_VECTOR_BACKEND"

	// Validation errors (400-499)
	ErrCodeInvalidInput           = "ERR_401_INVALID_INPUT"
	ErrCodeDimensionMismatch      = "ERR_402_DIMENSION_MISMATCH"
	ErrCodeUnsupportedContentType = "ERR_403_UNSUPPORTED_CONTENT_TYPE"
	ErrCodeMetadataDecode         = "ERR_404_METADATA_DECODE"
	ErrCodeQueryEmpty             = "ERR_405_QUERY_EMPTY"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodePipelineFatal = "ERR_502_PIPELINE_FATAL"
	ErrCodeVectorSearch  = "ERR_503_VECTOR_SEARCH"
	ErrCodeVectorWrite   = "ERR_504_VECTOR_WRITE"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "301" from "ERR_301_METADATA_FETCH"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryBackend
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodePipelineFatal, ErrCodeVectorWrite:
		return SeverityFatal
	case ErrCodeUnsupportedContentType, ErrCodeMetadataDecode:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeMetadataFetch, ErrCodeCacheUnprocessed, ErrCodeEmbeddingBackend:
		return true
	default:
		return false
	}
}
