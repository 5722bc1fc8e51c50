// Package weavererr defines the typed error taxonomy used across the
// execution core. Every error that can cross a component boundary carries
// a stable Code so that the job state machine and the HTTP presentation
// layer can classify failures without string matching.
package weavererr

import (
	"errors"
	"fmt"
)

// Code identifies a error category from the taxonomy.
type Code string

const (
	CodeSchemaInvalid        Code = "SCHEMA_INVALID"
	CodeDescriptionMismatch  Code = "DESCRIPTION_MISMATCH"
	CodeRefInvalid           Code = "REF_INVALID"
	CodeRefUnreachable       Code = "REF_UNREACHABLE"
	CodeRefAuthRequired      Code = "REF_AUTH_REQUIRED"
	CodeRefFormatMismatch    Code = "REF_FORMAT_MISMATCH"
	CodeVaultGone            Code = "VAULT_GONE"
	CodeVaultDenied          Code = "VAULT_DENIED"
	CodeRunnerFailed         Code = "RUNNER_FAILED"
	CodeRunnerTimeout        Code = "RUNNER_TIMEOUT"
	CodeStepFailed           Code = "STEP_FAILED"
	CodePackageAuthRequired  Code = "PACKAGE_AUTH_REQUIRED"
	CodeConflictInUse        Code = "CONFLICT_IN_USE"
	CodeGone                 Code = "GONE"
	CodeNotFound             Code = "NOT_FOUND"
	CodeForbidden            Code = "FORBIDDEN"
	CodeUnprocessable        Code = "UNPROCESSABLE"
)

// Coded is implemented by every error in the taxonomy.
type Coded interface {
	error
	Code() Code
}

// Error is the common typed-error shape: a code, a human message, and an
// optional wrapped cause. Component-specific errors embed Error and add
// fields (offending component, stderr tail, etc).
type Error struct {
	Code_      Code
	Message    string
	Cause      error
	Component  string // which subsystem raised this (fetcher, vault, runner, dispatcher, ...)
}

func (e *Error) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("%s: %s: %s", e.Component, e.Code_, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code_, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }
func (e *Error) Code() Code    { return e.Code_ }

// New builds an Error with the given code and message.
func New(code Code, component, message string) *Error {
	return &Error{Code_: code, Component: component, Message: message}
}

// Wrap builds an Error that wraps cause, preserving its message as context.
func Wrap(code Code, component string, cause error, message string) *Error {
	return &Error{Code_: code, Component: component, Message: message, Cause: cause}
}

// RefError is raised by the Fetcher (spec §4.1).
type RefError struct {
	*Error
	URL string
}

func NewRefError(code Code, url, message string, cause error) *RefError {
	return &RefError{Error: &Error{Code_: code, Component: "fetcher", Message: message, Cause: cause}, URL: url}
}

// VaultError is raised by the Vault (spec §4.2).
type VaultError struct {
	*Error
	RecordID string
}

func NewVaultError(code Code, recordID, message string) *VaultError {
	return &VaultError{Error: &Error{Code_: code, Component: "vault", Message: message}, RecordID: recordID}
}

// RunnerError is raised by the CWL runner contract (spec §4.3) or a remote
// step runner (spec §4.8). StderrTail carries the captured diagnostic per
// spec §7 "a human message including a captured stderr tail for runner
// errors".
type RunnerError struct {
	*Error
	StepID     string
	ExitCode   int
	StderrTail string
}

func NewRunnerFailed(stepID string, exitCode int, stderrTail string, cause error) *RunnerError {
	return &RunnerError{
		Error:      &Error{Code_: CodeRunnerFailed, Component: "runner", Message: "application exited non-zero", Cause: cause},
		StepID:     stepID,
		ExitCode:   exitCode,
		StderrTail: stderrTail,
	}
}

func NewRunnerTimeout(stepID string, cause error) *RunnerError {
	return &RunnerError{
		Error:  &Error{Code_: CodeRunnerTimeout, Component: "runner", Message: "runner exceeded its wall-clock budget", Cause: cause},
		StepID: stepID,
	}
}

// StepError is raised by the Step Dispatcher for an unrecoverable remote
// step failure (spec §4.8 item 4).
type StepError struct {
	*Error
	StepID string
}

func NewStepFailed(stepID, message string, cause error) *StepError {
	return &StepError{Error: &Error{Code_: CodeStepFailed, Component: "dispatcher", Message: message, Cause: cause}, StepID: stepID}
}

// ProblemDetails is the RFC-7807-ish body specified in spec.md §6.
type ProblemDetails struct {
	Code        string `json:"code"`
	Status      int    `json:"status"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Cause       string `json:"cause,omitempty"`
}

// httpStatus maps a taxonomy code to the status code spec.md §6 assigns it.
var httpStatus = map[Code]int{
	CodeSchemaInvalid:       400,
	CodeDescriptionMismatch: 400,
	CodeRefInvalid:          400,
	CodeRefUnreachable:      502,
	CodeRefAuthRequired:     401,
	CodeRefFormatMismatch:   400,
	CodeVaultGone:           410,
	CodeVaultDenied:         403,
	CodeRunnerFailed:        500,
	CodeRunnerTimeout:       504,
	CodeStepFailed:          500,
	CodePackageAuthRequired: 401,
	CodeConflictInUse:       409,
	CodeGone:                410,
	CodeNotFound:            404,
	CodeForbidden:           403,
	CodeUnprocessable:       422,
}

// ToProblemDetails renders err as the RFC-7807-ish body of spec.md §6.
// Errors that are not part of the taxonomy render as a generic 500.
func ToProblemDetails(err error) ProblemDetails {
	var coded Coded
	if errors.As(err, &coded) {
		status, ok := httpStatus[coded.Code()]
		if !ok {
			status = 500
		}
		pd := ProblemDetails{
			Code:        string(coded.Code()),
			Status:      status,
			Title:       string(coded.Code()),
			Description: coded.Error(),
		}
		var cause error
		if u, ok := err.(interface{ Unwrap() error }); ok {
			cause = u.Unwrap()
		}
		if cause != nil {
			pd.Cause = cause.Error()
		}
		return pd
	}
	return ProblemDetails{
		Code:        "UNPROCESSABLE",
		Status:      500,
		Title:       "internal error",
		Description: err.Error(),
	}
}
