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


package util

import (
	"math"
	"runtime/debug"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const memoryMax uint64 = math.MaxUint64

// SetGoMemLimit sets the soft memory limit of the Go runtime to ratio of the
// cgroup memory limit. Nothing is changed outside a memory limited cgroup.
func SetGoMemLimit(ratio float64) {
	limit, err := memlimit.FromCgroup()
	if err != nil || limit == 0 || limit == memoryMax {
		log.Info("no cgroup memory limit", zap.Error(err))
		return
	}
	goLimit := int64(float64(limit) * ratio)
	debug.SetMemoryLimit(goLimit)
	log.Info("set go memory limit",
		zap.Uint64("cgroupLimit", limit), zap.Int64("goLimit", goLimit))
}
