// Watchdog configuration.

// The configuration is loaded from a YAML file, with the following
// structure:
//
//  wd_config:
//    instance: wd
//    log_config:
//      ...
//    supervisor_config:
//      ...
//  app_config:
//    ...
//
// The "wd_config" section maps to the WdConfig structure defined in
// this package. The "app_config" section belongs to the monitored
// program and is decoded into the structure it provides, primed with
// its own defaults.

package wd_internal

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	WD_CONFIG_SECTION_NAME  = "wd_config"
	APP_CONFIG_SECTION_NAME = "app_config"

	SUPERVISOR_CONFIG_INTERVAL_DEFAULT        = 3
	SUPERVISOR_CONFIG_THRESHOLD_DEFAULT       = 4
	SUPERVISOR_CONFIG_WD_EXEC_PATH_DEFAULT    = "./wd_exec"
	SUPERVISOR_CONFIG_RENDEZVOUS_PATH_DEFAULT = "/tmp/wd.rdv"
	// 0 disables the health report task:
	SUPERVISOR_CONFIG_HEALTH_REPORT_INTERVAL_DEFAULT = 0 * time.Second
)

type SupervisorConfig struct {
	// Pulse period, in whole seconds:
	Interval uint `yaml:"interval"`
	// Max tolerated outbound pulses since the last inbound one:
	Threshold uint `yaml:"threshold"`
	// Path of the watchdog companion image:
	WdExecPath string `yaml:"wd_exec_path"`
	// Path of the rendezvous object used for the start-up and recovery
	// handshakes. It must be unique system-wide:
	RendezvousPath string `yaml:"rendezvous_path"`
	// How often the watchdog side logs a process health summary, use 0
	// to disable:
	HealthReportInterval time.Duration `yaml:"health_report_interval"`
}

func DefaultSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		Interval:             SUPERVISOR_CONFIG_INTERVAL_DEFAULT,
		Threshold:            SUPERVISOR_CONFIG_THRESHOLD_DEFAULT,
		WdExecPath:           SUPERVISOR_CONFIG_WD_EXEC_PATH_DEFAULT,
		RendezvousPath:       SUPERVISOR_CONFIG_RENDEZVOUS_PATH_DEFAULT,
		HealthReportInterval: SUPERVISOR_CONFIG_HEALTH_REPORT_INTERVAL_DEFAULT,
	}
}

type WdConfig struct {
	// The instance name, default "wd". It may be overridden by the
	// --instance command line arg:
	Instance string `yaml:"instance"`

	// Specific components configuration:
	LoggerConfig     *LoggerConfig     `yaml:"log_config"`
	SupervisorConfig *SupervisorConfig `yaml:"supervisor_config"`
}

func DefaultWdConfig() *WdConfig {
	return &WdConfig{
		Instance:         Instance,
		LoggerConfig:     DefaultLoggerConfig(),
		SupervisorConfig: DefaultSupervisorConfig(),
	}
}

// LoadConfig loads the configuration from the specified YAML file (or
// buffer, for testing) as follows:
//   - the wd_config section is returned as a *WdConfig structure
//   - the app_config section is loaded into the provided appConfig
//     structure, expected to have been primed with default values.
//
// Additionally an error is returned if the configuration could not be
// loaded or parsed.
func LoadConfig(cfgFile string, appConfig any, buf []byte) (*WdConfig, error) {
	if buf == nil {
		// Normal case, buf is pre-populated only for testing.
		f, err := os.Open(cfgFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
		}
	}

	docNode := yaml.Node{}
	err := yaml.Unmarshal(buf, &docNode)
	if err != nil {
		return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
	}

	wdConfig := DefaultWdConfig()
	if docNode.Kind == yaml.DocumentNode && len(docNode.Content) > 0 {
		rootNode := docNode.Content[0]
		if rootNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("file: %q: invalid YAML root node %q", cfgFile, rootNode.Tag)
		}
		var toCfg any = nil
		for _, n := range rootNode.Content {
			if n.Kind == yaml.ScalarNode {
				switch n.Value {
				case WD_CONFIG_SECTION_NAME:
					toCfg = wdConfig
				case APP_CONFIG_SECTION_NAME:
					toCfg = appConfig
				}
				continue
			}
			if n.Kind == yaml.MappingNode && toCfg != nil {
				if err = n.Decode(toCfg); err != nil {
					return nil, fmt.Errorf("file: %q: %v", cfgFile, err)
				}
			}
			toCfg = nil
		}
	}

	return wdConfig, nil
}
