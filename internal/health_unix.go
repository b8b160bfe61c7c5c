//go:build unix

// Process health reporting.
//
// The watchdog side may register a second recurring task, next to the
// pulse task, that logs a one line health summary: how long this
// process and the host have been up, CPU time burned, host memory in
// use. Children CPU covers only child processes this process reaped;
// the watchdog side does not reap its peer, so the peer's time is not
// included.

package wd_internal

import (
	"fmt"
	"runtime"
	"time"

	"github.com/docker/go-units"
	"github.com/mackerelio/go-osstat/memory"
	"github.com/mackerelio/go-osstat/uptime"
	"golang.org/x/sys/unix"
)

var healthLog = NewCompLogger("health")

// Set once at process start:
var procStartTime = time.Now()

func GetOsBootTime() (time.Time, error) {
	up, err := uptime.Get()
	if err != nil {
		return time.Now(), fmt.Errorf("uptime.Get(): %v", err)
	}
	return time.Now().Add(-up), nil
}

func timevalSec(tv unix.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

// CPU time (user + system) in seconds for this process or its reaped
// children, per the who selector:
func GetCpuTime(who int) (float64, error) {
	rusage := unix.Rusage{}
	if err := unix.Getrusage(who, &rusage); err != nil {
		return 0, fmt.Errorf("unix.Getrusage(%d): %v", who, err)
	}
	return timevalSec(rusage.Utime) + timevalSec(rusage.Stime), nil
}

func GetMyCpuTime() (float64, error) {
	return GetCpuTime(unix.RUSAGE_SELF)
}

// Peak resident set size, in bytes. ru_maxrss is reported in KiB
// everywhere but Darwin, which uses bytes:
func GetProcMaxRss() (int64, error) {
	rusage := unix.Rusage{}
	if err := unix.Getrusage(unix.RUSAGE_SELF, &rusage); err != nil {
		return 0, fmt.Errorf("unix.Getrusage(): %v", err)
	}
	maxRss := int64(rusage.Maxrss)
	if runtime.GOOS != "darwin" {
		maxRss *= 1024
	}
	return maxRss, nil
}

func healthReportTask(any) int {
	cpuSelf, err := GetMyCpuTime()
	if err != nil {
		healthLog.Warn(err)
		return 0
	}
	cpuChildren, err := GetCpuTime(unix.RUSAGE_CHILDREN)
	if err != nil {
		cpuChildren = 0
	}
	maxRss, err := GetProcMaxRss()
	if err != nil {
		healthLog.Warn(err)
		return 0
	}
	hostUp := "n/a"
	if bootTime, err := GetOsBootTime(); err == nil {
		hostUp = units.HumanDuration(time.Since(bootTime))
	}
	hostMem := "n/a"
	if mem, err := memory.Get(); err == nil {
		hostMem = fmt.Sprintf(
			"%s/%s",
			units.BytesSize(float64(mem.Used)), units.BytesSize(float64(mem.Total)),
		)
	}
	healthLog.Infof(
		"up %s (host up %s), cpu %.2fs (+%.2fs reaped children), max rss %s, host mem used %s",
		units.HumanDuration(time.Since(procStartTime)), hostUp,
		cpuSelf, cpuChildren,
		units.BytesSize(float64(maxRss)), hostMem,
	)
	return 0
}
