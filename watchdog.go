// The public face of the watchdog for monitored programs.

package watchdog

import (
	"context"
	"flag"

	"github.com/sirupsen/logrus"

	wd_internal "github.com/bgp59/watchdog/internal"
)

// The environment variable holding the decimal peer pid after a
// successful Start, refreshed on every recovery:
const WD_ENV_VAR_NAME = wd_internal.WD_ENV_VAR_NAME

// Scheduler surface, usable on its own for recurring task scheduling:

type TaskID = wd_internal.TaskID
type TaskAction = wd_internal.TaskAction
type Task = wd_internal.Task
type TaskQueue = wd_internal.TaskQueue
type HeapScheduler = wd_internal.HeapScheduler
type SchedulerStatus = wd_internal.SchedulerStatus

const (
	SchedulerIdle      = wd_internal.SchedulerIdle
	SchedulerRunning   = wd_internal.SchedulerRunning
	SchedulerStopped   = wd_internal.SchedulerStopped
	SchedulerError     = wd_internal.SchedulerError
	SchedulerDestroyed = wd_internal.SchedulerDestroyed
	SchedulerSuccess   = wd_internal.SchedulerSuccess
)

var BadTaskID = wd_internal.BadTaskID

func NewHeapScheduler() *HeapScheduler {
	return wd_internal.NewHeapScheduler()
}

// Supervision surface:

type WatchdogParams = wd_internal.WatchdogParams
type WdConfig = wd_internal.WdConfig
type SupervisorConfig = wd_internal.SupervisorConfig

// Start launches the watchdog companion process and begins mutual
// monitoring of the calling process. threshold is the number of
// tolerated missed pulses, interval the pulse period in whole seconds
// and argv the caller's own command line (os.Args), used to resurrect
// the program should it die. Monitoring ends with Stop.
func Start(threshold, interval uint, argv []string) error {
	return wd_internal.Start(threshold, interval, argv)
}

// Stop ends monitoring on both sides and releases the associated
// resources. Best effort, no status.
func Stop() {
	wd_internal.Stop()
}

// RunWatchdog is the entry point for the watchdog executable; programs
// being monitored never call it directly.
func RunWatchdog(params *WatchdogParams) error {
	return wd_internal.RunWatchdog(params)
}

// AwaitPeer blocks until the process recorded under WD_PID accepts
// signals, with capped exponential backoff; it tolerates the transient
// dead pid visible during a recovery window.
func AwaitPeer(ctx context.Context) error {
	return wd_internal.AwaitPeer(ctx)
}

// Setup loads the configuration (flags already folded in) and applies
// the logger settings; the app_config section of the config file, if
// any, is decoded into appConfig. Typically called right before Start.
func Setup(appConfig any) (*WdConfig, error) {
	return wd_internal.Setup(appConfig)
}

// SetupFromConfigFile is the flag-less variant used by the watchdog
// executable, whose command line carries protocol parameters instead.
func SetupFromConfigFile(cfgFile string) (*WdConfig, error) {
	return wd_internal.SetupFromConfigFile(cfgFile)
}

// The instance should be primed w/ the desired default *before*
// invoking Setup, typically from an init(). Its value may be modified
// via config and command line args.
func SetDefaultInstance(instance string) {
	wd_internal.Instance = instance
}

// Set the config flag default value, typically to
// <default_instance>-config.yaml:
func SetDefaultConfigFile(filePath string) {
	if configFlag := flag.Lookup(wd_internal.CONFIG_FLAG_NAME); configFlag != nil {
		if err := configFlag.Value.Set(filePath); err == nil {
			configFlag.DefValue = filePath
		}
	}
}

// Update build info: version (semver) and git info. To be called
// *before* Setup, typically from an init() function.
func UpdateBuildInfo(version, gitInfo string) {
	wd_internal.Version = version
	wd_internal.GitInfo = gitInfo
}

// Get the instance, which is typically set from the command line or
// config.
func GetInstance() string {
	return wd_internal.Instance
}

// The root logger, with its actual type obscured. The only use case is
// log capture during tests:
//
//	tlc := wd_testutils.NewTestLogCollect(t, watchdog.GetRootLogger(), nil)
//	defer tlc.RestoreLog()
func GetRootLogger() any { return wd_internal.GetRootLogger() }

// Create new component logger w/ comp=compName field:
func NewCompLogger(comp string) *logrus.Entry {
	return wd_internal.NewCompLogger(comp)
}

// When logging, source file paths are reported relative to a module
// root. This registers the caller's module root, inferred from the
// caller's file path going up N dirs; typically called from
// main.init() with 0 when main.go sits at the module root.
func AddCallerSrcPathPrefixToLogger(upNDirs int) {
	// skip = 1 below to base the path on the caller of this function:
	wd_internal.AddCallerSrcPathPrefixToLogger(upNDirs, 1)
}
