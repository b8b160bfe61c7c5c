// Example driver: a program that places itself under watchdog
// protection, burns some CPU and then withdraws. Not part of the
// supervision contract, just a demonstration of the call sequence.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/bgp59/watchdog"
)

const (
	DEFAULT_INSTANCE = "wddemo"

	THRESHOLD = 4
	INTERVAL  = 3
)

var mainLog = watchdog.NewCompLogger(DEFAULT_INSTANCE)

// Customize the framework for this instance before Setup, hence via
// init():
func init() {
	// This file is 2 dirs below the module root:
	watchdog.AddCallerSrcPathPrefixToLogger(2)
	watchdog.SetDefaultInstance(DEFAULT_INSTANCE)
	watchdog.SetDefaultConfigFile(fmt.Sprintf("%s-config.yaml", DEFAULT_INSTANCE))
	watchdog.UpdateBuildInfo(Version, GitInfo)
}

func main() {
	flag.Parse()
	if _, err := watchdog.Setup(nil); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := watchdog.Start(THRESHOLD, INTERVAL, os.Args); err != nil {
		mainLog.Errorf("watchdog start: %v", err)
		os.Exit(1)
	}
	mainLog.Infof("monitored, peer pid via %s=%s", watchdog.WD_ENV_VAR_NAME, os.Getenv(watchdog.WD_ENV_VAR_NAME))

	// The critical section kept alive by the watchdog. Kill either
	// process while this runs and watch it come back:
	for i := 0; i < 10000000; i++ {
		fmt.Println(i)
	}

	watchdog.Stop()
	mainLog.Info("done")
}
