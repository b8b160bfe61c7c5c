package wd_internal

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LOGGER_CONFIG_USE_JSON_DEFAULT                = false
	LOGGER_CONFIG_LEVEL_DEFAULT                   = "info"
	LOGGER_CONFIG_DISABLE_SRC_FILE_DEFAULT        = false
	LOGGER_CONFIG_LOG_FILE_DEFAULT                = "" // i.e. stderr
	LOGGER_CONFIG_LOG_FILE_MAX_SIZE_MB_DEFAULT    = 10
	LOGGER_CONFIG_LOG_FILE_MAX_BACKUP_NUM_DEFAULT = 1

	LOGGER_DEFAULT_LEVEL    = logrus.InfoLevel
	LOGGER_TIMESTAMP_FORMAT = time.RFC3339
	// Extra field added for component sub loggers:
	LOGGER_COMPONENT_FIELD_NAME = "comp"
)

// Logger whose output and level can be captured/restored, as needed for
// test log collection (see testutils/log_collector.go):
type CollectableLogger struct {
	logrus.Logger
	// Cached condition of being enabled for debug, tested before
	// formatting more expensive debug info:
	IsEnabledForDebug bool
}

func (log *CollectableLogger) GetOutput() io.Writer {
	return log.Out
}

func (log *CollectableLogger) GetLevel() any {
	return log.Logger.GetLevel()
}

func (log *CollectableLogger) SetLevel(level any) {
	if level, ok := level.(logrus.Level); ok {
		log.Logger.SetLevel(level)
		log.IsEnabledForDebug = log.IsLevelEnabled(logrus.DebugLevel)
	}
}

type LoggerConfig struct {
	// Whether to structure the logged record in JSON:
	UseJson bool `yaml:"use_json"`
	// Log level name: info, warn, ...:
	Level string `yaml:"level"`
	// Whether to disable the reporting of the source file:line# info:
	DisableSrcFile bool `yaml:"disable_src_file"`
	// Whether to log to a file or, if empty, to stderr:
	LogFile string `yaml:"log_file"`
	// Log file max size, in MB, before rotation, use 0 to disable:
	LogFileMaxSizeMB int `yaml:"log_file_max_size_mb"`
	// How many older log files to keep upon rotation:
	LogFileMaxBackupNum int `yaml:"log_file_max_backup_num"`
}

func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		UseJson:             LOGGER_CONFIG_USE_JSON_DEFAULT,
		Level:               LOGGER_CONFIG_LEVEL_DEFAULT,
		DisableSrcFile:      LOGGER_CONFIG_DISABLE_SRC_FILE_DEFAULT,
		LogFile:             LOGGER_CONFIG_LOG_FILE_DEFAULT,
		LogFileMaxSizeMB:    LOGGER_CONFIG_LOG_FILE_MAX_SIZE_MB_DEFAULT,
		LogFileMaxBackupNum: LOGGER_CONFIG_LOG_FILE_MAX_BACKUP_NUM_DEFAULT,
	}
}

// Logged file names are reported relative to a module root. Importers
// of this package (the demo driver, wd_exec) register their own root
// via AddCallerSrcPathPrefixToLogger; the longest registered prefix
// wins, and with no match the last keepNDirs directories are kept.

type srcPathPrefixes struct {
	m         sync.Mutex
	prefixes  []string
	keepNDirs int
}

func (p *srcPathPrefixes) add(prefix string) {
	if !strings.HasSuffix(prefix, "/") {
		// A complete dir prefix, such that "/a/b" cannot match a file
		// under "/a/bb/":
		prefix += "/"
	}
	p.m.Lock()
	defer p.m.Unlock()
	for _, havePrefix := range p.prefixes {
		if havePrefix == prefix {
			return
		}
	}
	p.prefixes = append(p.prefixes, prefix)
	sort.SliceStable(p.prefixes, func(i, j int) bool {
		return len(p.prefixes[i]) > len(p.prefixes[j])
	})
}

func (p *srcPathPrefixes) strip(filePath string) string {
	p.m.Lock()
	defer p.m.Unlock()
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(filePath, prefix) {
			return filePath[len(prefix):]
		}
	}
	comps := strings.Split(filePath, "/")
	keep := p.keepNDirs + 1
	if keep < 1 {
		keep = 1
	}
	if keep < len(comps) {
		filePath = path.Join(comps[len(comps)-keep:]...)
	}
	return filePath
}

var srcPrefixes = &srcPathPrefixes{
	keepNDirs: 1, // typically the last directory is the package
}

// Register the module root prefix inferred from the caller's source
// file path, upNDirs directories up from the caller's dir. The skip
// parameter accounts for exported wrappers adding stack frames.
func AddCallerSrcPathPrefixToLogger(upNDirs int, skip int) error {
	skip += 1 // skip this function
	_, file, _, ok := runtime.Caller(skip)
	if !ok {
		return fmt.Errorf("cannot determine source root: runtime.Caller(%d) failed", skip)
	}
	prefix := path.Dir(file)
	for i := 0; i < upNDirs; i++ {
		prefix = path.Dir(prefix)
	}
	srcPrefixes.add(prefix)
	return nil
}

// Cache caller PC -> file:line# to speed up formatting:
type logCallerCache struct {
	m     sync.Mutex
	cache map[uintptr]string
}

func (c *logCallerCache) prettyfier(f *runtime.Frame) (function string, file string) {
	c.m.Lock()
	defer c.m.Unlock()
	file, ok := c.cache[f.PC]
	if !ok {
		file = fmt.Sprintf("%s:%d", srcPrefixes.strip(f.File), f.Line)
		c.cache[f.PC] = file
	}
	return "", file
}

var callerCache = &logCallerCache{
	cache: make(map[uintptr]string),
}

var LogFieldKeySortOrder = map[string]int{
	// The desired order is time, level, comp, file, other fields sorted
	// alphabetically and msg last. Negative numbers for the leading
	// fields capitalize on map lookup returning 0 for the rest.
	logrus.FieldKeyTime:         -4,
	logrus.FieldKeyLevel:        -3,
	LOGGER_COMPONENT_FIELD_NAME: -2,
	logrus.FieldKeyFile:         -1,
	logrus.FieldKeyMsg:          1,
}

func LogSortFieldKeys(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		order_i, order_j := LogFieldKeySortOrder[keys[i]], LogFieldKeySortOrder[keys[j]]
		if order_i != 0 || order_j != 0 {
			return order_i < order_j
		}
		return keys[i] < keys[j]
	})
}

var LogTextFormatter = &logrus.TextFormatter{
	DisableColors:    true,
	FullTimestamp:    true,
	TimestampFormat:  LOGGER_TIMESTAMP_FORMAT,
	CallerPrettyfier: callerCache.prettyfier,
	SortingFunc:      LogSortFieldKeys,
}

var LogJsonFormatter = &logrus.JSONFormatter{
	TimestampFormat:  LOGGER_TIMESTAMP_FORMAT,
	CallerPrettyfier: callerCache.prettyfier,
}

var RootLogger = &CollectableLogger{
	Logger: logrus.Logger{
		Out:          os.Stderr,
		Formatter:    LogTextFormatter,
		Level:        LOGGER_DEFAULT_LEVEL,
		ReportCaller: true,
	},
}

// Public access to the root logger, needed for testing:
func GetRootLogger() *CollectableLogger { return RootLogger }

func init() {
	// The default prefix for this module is 1 dir up from this file's dir:
	AddCallerSrcPathPrefixToLogger(1, 0)
}

// Apply the logger config, normally after command line overrides were
// folded in:
func SetLogger(logCfg *LoggerConfig) error {
	if logCfg == nil {
		logCfg = DefaultLoggerConfig()
	}

	if logCfg.Level != "" {
		level, err := logrus.ParseLevel(logCfg.Level)
		if err != nil {
			return err
		}
		RootLogger.SetLevel(level)
	}

	if logCfg.UseJson {
		RootLogger.SetFormatter(LogJsonFormatter)
	} else {
		RootLogger.SetFormatter(LogTextFormatter)
	}

	RootLogger.SetReportCaller(!logCfg.DisableSrcFile)

	switch logFile := logCfg.LogFile; logFile {
	case "stderr":
		RootLogger.SetOutput(os.Stderr)
	case "stdout":
		RootLogger.SetOutput(os.Stdout)
	case "":
	default:
		logDir := path.Dir(logFile)
		if _, err := os.Stat(logDir); err != nil {
			if err = os.MkdirAll(logDir, os.ModePerm); err != nil {
				return err
			}
		}
		if logCfg.LogFileMaxSizeMB <= 0 {
			// Rotation disabled, append to the file as is:
			out, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return err
			}
			RootLogger.SetOutput(out)
			return nil
		}
		// If the log file exists, force rotate it before the 1st use:
		_, err := os.Stat(logFile)
		forceRotate := err == nil
		out := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logCfg.LogFileMaxSizeMB,
			MaxBackups: logCfg.LogFileMaxBackupNum,
		}
		if forceRotate {
			if err := out.Rotate(); err != nil {
				return err
			}
		}
		RootLogger.SetOutput(out)
	}

	return nil
}

func NewCompLogger(compName string) *logrus.Entry {
	return RootLogger.WithField(LOGGER_COMPONENT_FIELD_NAME, compName)
}
