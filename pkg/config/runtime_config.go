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
	"encoding/json"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/logutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultSystemThreads         = 1
	defaultSchedulerIdleInterval = time.Millisecond
	defaultMailboxWarnThreshold  = 10000
)

// RuntimeConfig is the configuration of an actor system.
type RuntimeConfig struct {
	Log *logutil.Config `toml:"log" json:"log"`

	// UserThreads is the number of workers running actor work.
	UserThreads int `toml:"user-threads" json:"user-threads"`
	// SystemThreads is the number of workers running the runtime's own
	// housekeeping, including the mailbox scheduler.
	SystemThreads int `toml:"system-threads" json:"system-threads"`
	// NetThreads is the number of workers reserved for network bridges.
	// Zero means no net pool.
	NetThreads int `toml:"net-threads" json:"net-threads"`
	// EnableNetSubtree registers the /root/net subtree.
	EnableNetSubtree bool `toml:"enable-net-subtree" json:"enable-net-subtree"`

	// SchedulerIdleInterval is how long the mailbox scheduler sleeps when a
	// scan finds no work and nobody sends a message.
	SchedulerIdleInterval TomlDuration `toml:"scheduler-idle-interval" json:"scheduler-idle-interval"`
	// MailboxWarnThreshold is the mailbox length above which a rate limited
	// warning is logged. Zero disables the warning.
	MailboxWarnThreshold int `toml:"mailbox-warn-threshold" json:"mailbox-warn-threshold"`
}

// GetDefaultRuntimeConfig returns the default runtime config.
func GetDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Log: &logutil.Config{
			Level: "info",
		},
		UserThreads:           runtime.NumCPU(),
		SystemThreads:         defaultSystemThreads,
		NetThreads:            0,
		SchedulerIdleInterval: TomlDuration(defaultSchedulerIdleInterval),
		MailboxWarnThreshold:  defaultMailboxWarnThreshold,
	}
}

// Clone clones the RuntimeConfig.
func (c *RuntimeConfig) Clone() *RuntimeConfig {
	str, err := json.Marshal(c)
	if err != nil {
		log.Panic("failed to marshal runtime config",
			zap.Error(cerrors.WrapError(cerrors.ErrInvalidConfig, err, "marshal")))
	}
	clone := new(RuntimeConfig)
	err = json.Unmarshal(str, clone)
	if err != nil {
		log.Panic("failed to unmarshal runtime config",
			zap.Error(cerrors.WrapError(cerrors.ErrInvalidConfig, err, "unmarshal")))
	}
	return clone
}

// String implements fmt.Stringer.
func (c *RuntimeConfig) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.Error("marshal runtime config to json", logutil.ShortError(err))
	}
	return string(cfg)
}

// ValidateAndAdjust validates and adjusts the runtime config.
func (c *RuntimeConfig) ValidateAndAdjust() error {
	if c.Log == nil {
		c.Log = &logutil.Config{}
	}
	c.Log.Adjust()

	if c.UserThreads == 0 {
		c.UserThreads = runtime.NumCPU()
	}
	if c.SystemThreads == 0 {
		c.SystemThreads = defaultSystemThreads
	}
	if c.EnableNetSubtree && c.NetThreads == 0 {
		c.NetThreads = 1
	}
	if c.SchedulerIdleInterval <= 0 {
		c.SchedulerIdleInterval = TomlDuration(defaultSchedulerIdleInterval)
	}

	var err error
	if c.UserThreads < 0 {
		err = multierr.Append(err, cerrors.ErrInvalidConfig.GenWithStackByArgs(
			"user-threads must be positive"))
	}
	if c.SystemThreads < 0 {
		err = multierr.Append(err, cerrors.ErrInvalidConfig.GenWithStackByArgs(
			"system-threads must be positive"))
	}
	if c.NetThreads < 0 {
		err = multierr.Append(err, cerrors.ErrInvalidConfig.GenWithStackByArgs(
			"net-threads must not be negative"))
	}
	if c.MailboxWarnThreshold < 0 {
		err = multierr.Append(err, cerrors.ErrInvalidConfig.GenWithStackByArgs(
			"mailbox-warn-threshold must not be negative"))
	}
	return err
}

// StrictDecodeFile decodes the toml file strictly. If any item in confFile
// file is not mapped into the Config struct, issue an error and stop the
// process.
func StrictDecodeFile(path, component string, cfg interface{}, ignoreCheckItems ...string) error {
	metaData, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return cerrors.WrapError(cerrors.ErrDecodeConfigFile, err)
	}

	// check if item is a ignoreCheckItem
	hasIgnoreItem := func(item []string) bool {
		for _, ignoreCheckItem := range ignoreCheckItems {
			if item[0] == ignoreCheckItem {
				return true
			}
		}
		return false
	}

	if undecoded := metaData.Undecoded(); len(undecoded) > 0 {
		var b strings.Builder
		hasUnknownConfigSize := 0
		for _, item := range undecoded {
			if hasIgnoreItem(item) {
				continue
			}

			if hasUnknownConfigSize > 0 {
				b.WriteString(", ")
			}
			b.WriteString(item.String())
			hasUnknownConfigSize++
		}
		if hasUnknownConfigSize > 0 {
			err = errors.Errorf("component %s's config file %s contained unknown configuration options: %s",
				component, path, b.String())
		}
	}
	return errors.Trace(err)
}
