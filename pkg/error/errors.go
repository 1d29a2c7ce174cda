package error

import (
	"fmt"
	"net/http"
)

// GenericError is implemented by every error the REST layer knows how to render.
type GenericError interface {
	ErrCode() string
	StatusCode() int
	Error() string
}

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

type InternalServerError string

func (err InternalServerError) Error() string {
	return string(err)
}

func (err InternalServerError) ErrCode() string {
	return "INTERNAL_SERVER_ERROR"
}

func (err InternalServerError) StatusCode() int {
	return http.StatusInternalServerError
}

type WebhookError string

func (err WebhookError) Error() string {
	return string(err)
}

func (err WebhookError) ErrCode() string {
	return "WEBHOOK_ERROR"
}

func (err WebhookError) StatusCode() int {
	return http.StatusUnauthorized
}

// CorruptRecordError reports a stored value that failed to decode or validate.
// Scans skip such records; single-record reads return the error.
type CorruptRecordError struct {
	Key    string
	Reason string
}

func (err *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt record %s: %s", err.Key, err.Reason)
}

func (err *CorruptRecordError) ErrCode() string {
	return "CORRUPT_RECORD"
}

func (err *CorruptRecordError) StatusCode() int {
	return http.StatusInternalServerError
}

func CorruptRecord(key string, cause error) *CorruptRecordError {
	return &CorruptRecordError{Key: key, Reason: cause.Error()}
}
