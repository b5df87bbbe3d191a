/*
Copyright 2017 Caicloud authors. All rights reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"errors"
	"fmt"
)

// Reason classifies a control plane error for transport mapping.
type Reason string

const (
	// ReasonInvalid is malformed or contradictory input
	ReasonInvalid Reason = "Invalid"
	// ReasonForbidden is cross-project access without admin
	ReasonForbidden Reason = "Forbidden"
	// ReasonNotFound is an unknown resource id
	ReasonNotFound Reason = "NotFound"
	// ReasonConflict is a mutation racing an in-flight one, or an
	// address that is already taken
	ReasonConflict Reason = "Conflict"
	// ReasonProviderFailure is a backend failure with no retry expected
	ReasonProviderFailure Reason = "ProviderFailure"
	// ReasonProviderUnavailable is a backend failure where retry is plausible
	ReasonProviderUnavailable Reason = "ProviderUnavailable"
	// ReasonInternal is an invariant violation inside the control plane
	ReasonInternal Reason = "Internal"
)

// StatusError is the typed error surfaced across package boundaries.
type StatusError struct {
	Reason  Reason
	Message string
}

func (e *StatusError) Error() string {
	return e.Message
}

// NewInvalid returns an error for rejected input.
func NewInvalid(format string, args ...interface{}) *StatusError {
	return &StatusError{Reason: ReasonInvalid, Message: fmt.Sprintf(format, args...)}
}

// NewForbidden returns an error for denied access.
func NewForbidden(format string, args ...interface{}) *StatusError {
	return &StatusError{Reason: ReasonForbidden, Message: fmt.Sprintf(format, args...)}
}

// NewNotFound returns an error for an unknown resource.
func NewNotFound(kind ResourceType, id string) *StatusError {
	return &StatusError{Reason: ReasonNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

// NewConflict returns an error for a rejected concurrent mutation.
func NewConflict(format string, args ...interface{}) *StatusError {
	return &StatusError{Reason: ReasonConflict, Message: fmt.Sprintf(format, args...)}
}

// NewProviderFailure returns an error for a terminal backend failure.
func NewProviderFailure(format string, args ...interface{}) *StatusError {
	return &StatusError{Reason: ReasonProviderFailure, Message: fmt.Sprintf(format, args...)}
}

// NewProviderUnavailable returns an error for a retryable backend failure.
func NewProviderUnavailable(format string, args ...interface{}) *StatusError {
	return &StatusError{Reason: ReasonProviderUnavailable, Message: fmt.Sprintf(format, args...)}
}

// NewInternal returns an error for a broken invariant.
func NewInternal(format string, args ...interface{}) *StatusError {
	return &StatusError{Reason: ReasonInternal, Message: fmt.Sprintf(format, args...)}
}

// ReasonForError extracts the Reason of err, or ReasonInternal when err is
// not a StatusError.
func ReasonForError(err error) Reason {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Reason
	}
	return ReasonInternal
}

// IsInvalid reports whether err is a validation rejection.
func IsInvalid(err error) bool { return ReasonForError(err) == ReasonInvalid }

// IsForbidden reports whether err is an authorization denial.
func IsForbidden(err error) bool { return ReasonForError(err) == ReasonForbidden }

// IsNotFound reports whether err marks an unknown resource.
func IsNotFound(err error) bool { return ReasonForError(err) == ReasonNotFound }

// IsConflict reports whether err marks a rejected concurrent mutation.
func IsConflict(err error) bool { return ReasonForError(err) == ReasonConflict }
