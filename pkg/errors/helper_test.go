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

package errors

import (
	"context"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

func TestWrapError(t *testing.T) {
	t.Parallel()

	var (
		rfcError  = ErrDecodeConfigFile
		err       = errors.New("test")
		testCases = []struct {
			err      error
			isNil    bool
			expected string
			args     []interface{}
		}{
			{nil, true, "", []interface{}{}},
			{
				err, false, "[TiActor:ErrDecodeConfigFile]decode config file failed: test",
				[]interface{}{},
			},
		}
	)
	for _, tc := range testCases {
		we := WrapError(rfcError, tc.err, tc.args...)
		if tc.isNil {
			require.Nil(t, we)
		} else {
			require.NotNil(t, we)
			require.Equal(t, tc.expected, we.Error())
			require.True(t, rfcError.Equal(we))
		}
	}
}

func TestIsHardFailure(t *testing.T) {
	t.Parallel()

	require.True(t, IsHardFailure(ErrUnknownThreadKind.GenWithStackByArgs("net")))
	require.True(t, IsHardFailure(errors.Trace(ErrDoubleStart.GenWithStackByArgs("pool"))))
	require.False(t, IsHardFailure(ErrBadCast.GenWithStackByArgs("int", "string")))
	require.False(t, IsHardFailure(nil))
}

func TestIsContextCanceledError(t *testing.T) {
	t.Parallel()

	require.True(t, IsContextCanceledError(errors.Trace(context.Canceled)))
	require.False(t, IsContextCanceledError(context.DeadlineExceeded))
}
