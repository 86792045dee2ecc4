// Copyright Project Contour Authors
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

// Package errors holds the small set of typed errors shared across the
// control plane's components, so a caller several layers up can
// errors.As/errors.Is its way to "was this a timeout" or "was the queue
// full" without string-matching a message. Call-site wrapping uses
// github.com/pkg/errors, which the rest of the module already depends on
// for the stack-trace-carrying Wrap/Wrapf helpers.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind discriminates the typed errors below without requiring a type switch
// at every call site; Is/As still work normally since each Kind has its own
// Go type.
type Kind string

const (
	KindLoad        Kind = "load"
	KindRender      Kind = "render"
	KindDeserialise Kind = "deserialise"
	KindAuth        Kind = "auth"
	KindSource      Kind = "source"
	KindCache       Kind = "cache"
	KindTimeout     Kind = "timeout"
	KindQueueFull   Kind = "queue_full"
)

// Error is a tagged error: Kind identifies the category for errors.As-style
// handling, Op names the operation that failed, and the wrapped Err (if any)
// carries the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind, wrapping err with pkg/errors so a
// stack trace is attached at the point of failure.
func New(kind Kind, op string, err error) *Error {
	if err != nil {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) is an *Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// As is errors.As, re-exported so callers that otherwise only need this
// package don't also need to import the standard library errors package.
func As(err error, target any) bool { return errors.As(err, target) }

// LoadError wraps a loadable.Load failure.
func LoadError(op string, err error) error { return New(KindLoad, op, err) }

// RenderError wraps a template render failure.
func RenderError(op string, err error) error { return New(KindRender, op, err) }

// DeserialiseError wraps a deserialisation failure.
func DeserialiseError(op string, err error) error { return New(KindDeserialise, op, err) }

// AuthError wraps an authentication/authorisation failure.
func AuthError(op string, err error) error { return New(KindAuth, op, err) }

// SourceError wraps an upstream data source failure.
func SourceError(op string, err error) error { return New(KindSource, op, err) }

// CacheError wraps a cache backend failure.
func CacheError(op string, err error) error { return New(KindCache, op, err) }

// TimeoutError wraps a deadline-exceeded failure.
func TimeoutError(op string, err error) error { return New(KindTimeout, op, err) }

// QueueFull reports that a bounded queue rejected an enqueue because it was
// at capacity; callers translate this into a transient (HTTP 429-style)
// response rather than a hard failure.
func QueueFull(op string) error { return New(KindQueueFull, op, nil) }
