// Copyright (c) 2021 ubirch GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dcc

import (
	"errors"
	"fmt"
)

// Kind identifies one member of the closed DCC error taxonomy. Unlike a
// checked-exception hierarchy, callers recover the Kind via errors.As on
// the *Error wrapper instead of type-switching on the error chain.
type Kind int

const (
	// SchemaErrorKind means the payload failed a structural invariant
	// on encode or decode (e.g. duplicate UVCI, dob grammar violation).
	SchemaErrorKind Kind = iota
	// CborErrorKind means malformed CBOR at any layer.
	CborErrorKind
	// Base45ErrorKind means an invalid alphabet character or group value.
	Base45ErrorKind
	// CompressionErrorKind means inflate failed in strict mode.
	CompressionErrorKind
	// SignatureFailureKind means the signature did not verify, the
	// algorithm did not match the candidate certificate's key type, or
	// no candidate certificate verified.
	SignatureFailureKind
	// NoCertificateKind means no candidate certificate was available:
	// the provider returned none, or neither country nor kid could be
	// derived to look one up.
	NoCertificateKind
	// ExpiredKind means the exp claim is earlier than the validation
	// instant, checked only after a successful signature verification.
	ExpiredKind
	// KeyLookupErrorKind wraps an error surfaced by the CertificateProvider.
	KeyLookupErrorKind
	// InvariantViolationKind marks an internal consistency failure that
	// should never surface in correct use.
	InvariantViolationKind
)

func (k Kind) String() string {
	switch k {
	case SchemaErrorKind:
		return "SchemaError"
	case CborErrorKind:
		return "CborError"
	case Base45ErrorKind:
		return "Base45Error"
	case CompressionErrorKind:
		return "CompressionError"
	case SignatureFailureKind:
		return "SignatureFailure"
	case NoCertificateKind:
		return "NoCertificate"
	case ExpiredKind:
		return "Expired"
	case KeyLookupErrorKind:
		return "KeyLookupError"
	case InvariantViolationKind:
		return "InvariantViolation"
	default:
		return "UnknownError"
	}
}

// Error is the single closed error type for the core. Distinct signature
// outcomes (SignatureFailure vs. Expired vs. NoCertificate) are never
// collapsed into one Kind, so callers can branch on Kind directly.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newErr(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(k Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// SchemaError reports a structural invariant violation.
func SchemaError(format string, args ...interface{}) error {
	return newErr(SchemaErrorKind, format, args...)
}

// SchemaErrorf wraps an underlying cause as a SchemaError.
func SchemaErrorf(cause error, format string, args ...interface{}) error {
	return wrapErr(SchemaErrorKind, cause, format, args...)
}

// CborError wraps a CBOR (de)serialisation failure.
func CborError(cause error, format string, args ...interface{}) error {
	return wrapErr(CborErrorKind, cause, format, args...)
}

// Base45Error wraps a Base45 decode failure.
func Base45Error(cause error, format string, args ...interface{}) error {
	return wrapErr(Base45ErrorKind, cause, format, args...)
}

// CompressionError wraps a strict-mode inflate failure.
func CompressionError(cause error, format string, args ...interface{}) error {
	return wrapErr(CompressionErrorKind, cause, format, args...)
}

// SignatureFailure reports that verification failed for every candidate,
// or that the algorithm did not bind to the candidate's key type.
func SignatureFailure(format string, args ...interface{}) error {
	return newErr(SignatureFailureKind, format, args...)
}

// NoCertificate reports that the provider returned nothing, or that
// neither country nor kid was derivable.
func NoCertificate(format string, args ...interface{}) error {
	return newErr(NoCertificateKind, format, args...)
}

// Expired reports that exp lies before the validation instant.
func Expired(format string, args ...interface{}) error {
	return newErr(ExpiredKind, format, args...)
}

// KeyLookupError wraps an error surfaced by a CertificateProvider.
func KeyLookupError(cause error, format string, args ...interface{}) error {
	return wrapErr(KeyLookupErrorKind, cause, format, args...)
}

// InvariantViolation reports an internal consistency failure.
func InvariantViolation(format string, args ...interface{}) error {
	return newErr(InvariantViolationKind, format, args...)
}

// KindOf recovers the Kind of err, defaulting to InvariantViolationKind
// for errors that did not originate from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InvariantViolationKind
}
