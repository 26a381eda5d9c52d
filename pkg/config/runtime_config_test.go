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

package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuntimeConfig(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultRuntimeConfig()
	require.NoError(t, cfg.ValidateAndAdjust())
	require.Equal(t, runtime.NumCPU(), cfg.UserThreads)
	require.Equal(t, 1, cfg.SystemThreads)
	require.Equal(t, 0, cfg.NetThreads)
	require.Equal(t, TomlDuration(time.Millisecond), cfg.SchedulerIdleInterval)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestRuntimeConfigValidateAndAdjust(t *testing.T) {
	t.Parallel()

	cfg := &RuntimeConfig{EnableNetSubtree: true}
	require.NoError(t, cfg.ValidateAndAdjust())
	require.Equal(t, 1, cfg.NetThreads)
	require.Equal(t, 1, cfg.SystemThreads)
	require.NotNil(t, cfg.Log)
	require.Equal(t, "info", cfg.Log.Level)

	cfg = GetDefaultRuntimeConfig()
	cfg.UserThreads = -1
	cfg.NetThreads = -2
	err := cfg.ValidateAndAdjust()
	require.Error(t, err)
	require.Contains(t, err.Error(), "user-threads must be positive")
	require.Contains(t, err.Error(), "net-threads must not be negative")
}

func TestRuntimeConfigClone(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultRuntimeConfig()
	cfg.SchedulerIdleInterval = TomlDuration(3 * time.Millisecond)
	clone := cfg.Clone()
	require.Equal(t, cfg, clone)

	clone.Log.Level = "debug"
	clone.UserThreads = 42
	require.Equal(t, "info", cfg.Log.Level)
	require.NotEqual(t, 42, cfg.UserThreads)
}

func TestStrictDecodeFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.toml")
	content := `
user-threads = 3
system-threads = 2
scheduler-idle-interval = "5ms"
mailbox-warn-threshold = 64

[log]
level = "warn"
file = "/tmp/tiactor.log"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := GetDefaultRuntimeConfig()
	require.NoError(t, StrictDecodeFile(path, "tiactor", cfg))
	require.NoError(t, cfg.ValidateAndAdjust())
	require.Equal(t, 3, cfg.UserThreads)
	require.Equal(t, 2, cfg.SystemThreads)
	require.Equal(t, TomlDuration(5*time.Millisecond), cfg.SchedulerIdleInterval)
	require.Equal(t, 64, cfg.MailboxWarnThreshold)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "/tmp/tiactor.log", cfg.Log.File)

	badPath := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(badPath, []byte("user-threads = 1\nunknown-item = 2\n"), 0o644))
	err := StrictDecodeFile(badPath, "tiactor", GetDefaultRuntimeConfig())
	require.ErrorContains(t, err, "contained unknown configuration options: unknown-item")

	ignored := GetDefaultRuntimeConfig()
	require.NoError(t, StrictDecodeFile(badPath, "tiactor", ignored, "unknown-item"))

	malformed := filepath.Join(dir, "malformed.toml")
	require.NoError(t, os.WriteFile(malformed, []byte("user-threads = \n"), 0o644))
	err = StrictDecodeFile(malformed, "tiactor", GetDefaultRuntimeConfig())
	require.True(t, cerrors.ErrDecodeConfigFile.Equal(err))
}
