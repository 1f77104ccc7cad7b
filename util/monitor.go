// util/monitor.go
// Copyright(c) 2025 bridgesim contributors, licensed under the GNU Public License, Version 3.
// SPDX: GPL-3.0-only

package util

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/bridgesim/bridgesim/log"

	"github.com/shirou/gopsutil/v3/cpu"
)

// MonitorCPUUsage starts a background goroutine that watches total CPU
// usage and logs when it exceeds the given percentage threshold. If
// panicIfWedged is set, sustained usage above the threshold for a minute
// panics so that the stack traces of a spinning server make it into the
// logs.
func MonitorCPUUsage(threshold int, panicIfWedged bool, lg *log.Logger) {
	go func() {
		var exceeded time.Duration
		for {
			usage, err := cpu.Percent(15*time.Second, false)
			if err != nil || len(usage) == 0 {
				lg.Warnf("cpu.Percent: %v", err)
				return
			}

			if int(usage[0]) < threshold {
				exceeded = 0
				continue
			}

			exceeded += 15 * time.Second
			lg.Warn("high CPU usage", slog.Int("percent", int(usage[0])),
				slog.Duration("sustained", exceeded),
				slog.Int("goroutines", runtime.NumGoroutine()))

			if panicIfWedged && exceeded >= time.Minute {
				panic("sustained high CPU usage; panicking to report goroutine stacks")
			}
		}
	}()
}

// MonitorMemoryUsage starts a background goroutine that logs memory use
// each time the allocated heap grows past triggerMB and then by deltaMB
// increments beyond that.
func MonitorMemoryUsage(triggerMB, deltaMB int, lg *log.Logger) {
	go func() {
		next := uint64(triggerMB) * 1024 * 1024
		for {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)

			if m.Alloc >= next {
				lg.Info("memory usage",
					slog.Uint64("alloc_mb", m.Alloc/(1024*1024)),
					slog.Uint64("total_alloc_mb", m.TotalAlloc/(1024*1024)),
					slog.Uint64("sys_mb", m.Sys/(1024*1024)),
					slog.Int("num_gc", int(m.NumGC)))
				next = m.Alloc + uint64(deltaMB)*1024*1024
			}

			time.Sleep(15 * time.Second)
		}
	}()
}
