// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package actor

import (
	"reflect"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
)

// Cloner is implemented by message values that own mutable state. Clone must
// return a deep copy holding the same dynamic type.
type Cloner interface {
	Clone() any
}

// Payload carries exactly one message value of any type together with its
// dynamic type.
type Payload struct {
	value any
	typ   reflect.Type
}

// NewPayload wraps v. A nil v gives an empty payload that matches no type.
func NewPayload(v any) Payload {
	return Payload{value: v, typ: reflect.TypeOf(v)}
}

// Type returns the dynamic type of the held value, or nil.
func (p Payload) Type() reflect.Type {
	return p.typ
}

// Value returns the held value.
func (p Payload) Value() any {
	return p.value
}

// Clone returns a payload which does not share mutable state with p, as far
// as the held value implements Cloner. Other values are copied as is.
func (p Payload) Clone() Payload {
	if c, ok := p.value.(Cloner); ok {
		return NewPayload(c.Clone())
	}
	return p
}

// Is tells whether p holds a value whose dynamic type is exactly T.
func Is[T any](p Payload) bool {
	return p.typ != nil && p.typ == reflect.TypeOf((*T)(nil)).Elem()
}

// Cast returns the held value as T. It fails with ErrBadCast unless the
// dynamic type is exactly T; assignability, e.g. to an interface T, is not
// enough.
func Cast[T any](p Payload) (T, error) {
	if !Is[T](p) {
		var zero T
		return zero, cerrors.ErrBadCast.GenWithStackByArgs(
			typeName(p.typ), typeName(reflect.TypeOf((*T)(nil)).Elem()))
	}
	return p.value.(T), nil
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	return t.String()
}
