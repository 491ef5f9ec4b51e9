package model

import "github.com/m-mizutani/goerr/v2"

// Error tags classify failures so that callers can decide how to surface them
// without inspecting messages.
var (
	// ErrTagValidation marks missing or malformed user input.
	ErrTagValidation = goerr.NewTag("validation")
	// ErrTagProvider marks failures of the generative AI provider.
	ErrTagProvider = goerr.NewTag("provider")
	// ErrTagConfig marks missing server side configuration such as an API key.
	ErrTagConfig = goerr.NewTag("config")
	// ErrTagStorage marks history persistence failures.
	ErrTagStorage = goerr.NewTag("storage")
	// ErrTagExport marks failures while rendering or writing an exported guide.
	ErrTagExport = goerr.NewTag("export")
	// ErrTagNotFound marks lookups of objects that do not exist.
	ErrTagNotFound = goerr.NewTag("not_found")
)
