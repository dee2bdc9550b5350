// Package apperr holds the categorized errors surfaced to API and CLI callers.
package apperr

import (
	"context"
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes let callers tell retry-able conflicts apart from bad input.
const (
	CodeLockConflict        = "LOCK_CONFLICT"
	CodeSyncInProgress      = "SYNC_IN_PROGRESS"
	CodeCommerceUnavailable = "COMMERCE_UNAVAILABLE"
	CodeBadInput            = "BAD_INPUT"
	CodeNotFound            = "NOT_FOUND"
	CodeInternal            = "INTERNAL"
)

func build(message string, category goerrors.Category, code int, textCode string, metadata map[string]any) *goerrors.Error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func wrap(source error, category goerrors.Category, message string, code int, textCode string, metadata map[string]any) *goerrors.Error {
	if source == nil {
		return build(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

// LockConflict reports that an exclusive lock could not be obtained in time
func LockConflict(message string, metadata map[string]any) *goerrors.Error {
	return build(message, goerrors.CategoryConflict, http.StatusConflict, CodeLockConflict, metadata)
}

// SyncInProgress reports that another reconciliation run holds the slot
func SyncInProgress(direction string) *goerrors.Error {
	return build("sync: "+direction+" run already in progress", goerrors.CategoryConflict,
		http.StatusConflict, CodeSyncInProgress, map[string]any{"direction": direction})
}

// BadInput reports a request the caller must fix
func BadInput(message string, metadata map[string]any) *goerrors.Error {
	return build(message, goerrors.CategoryBadInput, http.StatusBadRequest, CodeBadInput, metadata)
}

// NotFound reports a missing record
func NotFound(message string, metadata map[string]any) *goerrors.Error {
	return build(message, goerrors.CategoryNotFound, http.StatusNotFound, CodeNotFound, metadata)
}

// External wraps a terminal failure of the commerce platform
func External(source error, message string, metadata map[string]any) *goerrors.Error {
	return wrap(source, goerrors.CategoryExternal, message, http.StatusBadGateway, CodeCommerceUnavailable, metadata)
}

// Internal wraps an unexpected failure
func Internal(source error, message string) *goerrors.Error {
	return wrap(source, goerrors.CategoryInternal, message, http.StatusInternalServerError, CodeInternal, nil)
}

// Classifier is implemented by package errors that know their category
type Classifier interface {
	AppError() *goerrors.Error
}

// As extracts the categorized error from err, classifying plain errors as internal
func As(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich
	}
	var classified Classifier
	if errors.As(err, &classified) {
		return classified.AppError()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return wrap(err, goerrors.CategoryOperation, "operation cancelled", http.StatusServiceUnavailable, CodeInternal, nil)
	}
	return Internal(err, err.Error())
}

// HasCode reports whether err carries the given text code
func HasCode(err error, textCode string) bool {
	if err == nil {
		return false
	}
	return As(err).TextCode == textCode
}
