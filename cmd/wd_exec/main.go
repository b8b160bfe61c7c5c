// The watchdog companion executable.
//
// Its command line is interposed by the user side:
//
//	wd_exec <interval> <threshold> <original argv...>
//
// so that on a re-exec it can reconstruct the protocol parameters and
// the monitored program's command line from its own argv. Protocol
// parameters are positional; tunables that are not part of the child
// process contract (logging, paths) come from the shared config file
// when one is present.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bgp59/watchdog"
)

const (
	DEFAULT_INSTANCE    = "wd"
	DEFAULT_CONFIG_FILE = DEFAULT_INSTANCE + "-config.yaml"
)

var mainLog = watchdog.NewCompLogger("wd_exec")

func init() {
	// Report source file paths relative to this module:
	watchdog.AddCallerSrcPathPrefixToLogger(2)
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 4 {
		fmt.Fprintf(os.Stderr, "usage: %s interval threshold argv0 [arg...]\n", os.Args[0])
		return 1
	}
	interval, err := strconv.ParseUint(os.Args[1], 10, 32)
	if err != nil || interval == 0 {
		fmt.Fprintf(os.Stderr, "%s: invalid interval %q\n", os.Args[0], os.Args[1])
		return 1
	}
	threshold, err := strconv.ParseUint(os.Args[2], 10, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: invalid threshold %q\n", os.Args[0], os.Args[2])
		return 1
	}

	wdConfig, err := watchdog.SetupFromConfigFile(DEFAULT_CONFIG_FILE)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		return 1
	}
	supCfg := wdConfig.SupervisorConfig

	// Carried into the environment of the user program should this
	// process ever exec-replace itself with it during recovery:
	os.Setenv(watchdog.WD_ENV_VAR_NAME, strconv.Itoa(os.Getpid()))

	params := &watchdog.WatchdogParams{
		Interval:             uint(interval),
		Threshold:            uint(threshold),
		Argv:                 os.Args[3:],
		WdExecPath:           supCfg.WdExecPath,
		RendezvousPath:       supCfg.RendezvousPath,
		HealthReportInterval: supCfg.HealthReportInterval,
		IsUser:               false,
		// The user process is the one that spawned us:
		PeerPid: os.Getppid(),
	}

	mainLog.Infof(
		"watchdog up: pid=%d, peer=%d, interval=%ds, threshold=%d",
		os.Getpid(), params.PeerPid, params.Interval, params.Threshold,
	)
	if err := watchdog.RunWatchdog(params); err != nil {
		mainLog.Error(err)
		return 1
	}
	return 0
}
