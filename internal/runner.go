package wd_internal

import (
	"flag"
	"fmt"
	"os"

	"github.com/bgp59/logrusx"
)

// Shared start-up for programs embedding the watchdog (the monitored
// program, the demo driver) and for the watchdog executable itself:
// command line args, configuration and logging.
//
// Setup loads the configuration, folds in the command line overrides
// and applies the logger settings. The flags must be parsed by the
// main function *before* calling it (Setup parses them itself if main
// did not). The watchdog executable receives its protocol parameters
// positionally, per the child process contract, so it bypasses the
// flags and uses SetupFromConfigFile with the well known file name.

const (
	CONFIG_FLAG_NAME = "config"
	INSTANCE_DEFAULT = "wd"
)

var (
	// The instance should be primed w/ the desired default *before*
	// invoking Setup, most likely from an init(). Its value may be
	// modified via config and command line args:
	Instance string = INSTANCE_DEFAULT

	// Build info, normally set via init() by the user of this package:
	Version string
	GitInfo string

	// Supervisor settings from the loaded config, if any. Start falls
	// back on defaults when Setup was never called:
	loadedSupervisorConfig *SupervisorConfig
)

func supervisorConfig() *SupervisorConfig {
	if loadedSupervisorConfig != nil {
		return loadedSupervisorConfig
	}
	return DefaultSupervisorConfig()
}

// Command line args, defined at package scope since the flags are
// parsed in main:
var (
	versionArg = flag.Bool(
		"version",
		false,
		FormatFlagUsage(
			`Print the version and exit`,
		),
	)

	configFileArg = flag.String(
		CONFIG_FLAG_NAME,
		fmt.Sprintf("%s-config.yaml", INSTANCE_DEFAULT),
		`Config file to load`,
	)

	instanceArg = flag.String(
		"instance",
		"",
		FormatFlagUsage(
			`Override the "wd_config.instance" config setting`,
		),
	)
)

func init() {
	logrusx.EnableLoggerArgs()
}

var runnerLog = NewCompLogger("runner")

// Setup is the shared start-up path for flag driven programs. It
// returns the effective configuration; the app_config section of the
// file, if present, is decoded into appConfig. A missing config file
// is not an error, the defaults apply.
func Setup(appConfig any) (*WdConfig, error) {
	if !flag.Parsed() {
		flag.Parse()
	}

	if *versionArg {
		fmt.Fprintf(os.Stderr, "Version: %s, GitInfo: %s\n", Version, GitInfo)
		os.Exit(0)
	}

	wdConfig, err := loadConfigIfPresent(*configFileArg, appConfig)
	if err != nil {
		return nil, err
	}

	if *instanceArg != "" {
		wdConfig.Instance = *instanceArg
	}
	logrusx.ApplySetLoggerArgs((*logrusx.LoggerConfig)(wdConfig.LoggerConfig))

	if err = SetLogger(wdConfig.LoggerConfig); err != nil {
		return nil, err
	}

	Instance = wdConfig.Instance
	loadedSupervisorConfig = wdConfig.SupervisorConfig

	runnerLog.Debugf("instance: %s", Instance)
	return wdConfig, nil
}

// SetupFromConfigFile is the start-up path for the watchdog executable:
// no flags, just the config file (tolerated missing) and the logger.
func SetupFromConfigFile(cfgFile string) (*WdConfig, error) {
	wdConfig, err := loadConfigIfPresent(cfgFile, nil)
	if err != nil {
		return nil, err
	}
	if err = SetLogger(wdConfig.LoggerConfig); err != nil {
		return nil, err
	}
	Instance = wdConfig.Instance
	loadedSupervisorConfig = wdConfig.SupervisorConfig
	return wdConfig, nil
}

func loadConfigIfPresent(cfgFile string, appConfig any) (*WdConfig, error) {
	if _, err := os.Stat(cfgFile); err != nil {
		if os.IsNotExist(err) {
			return DefaultWdConfig(), nil
		}
		return nil, err
	}
	return LoadConfig(cfgFile, appConfig, nil)
}
