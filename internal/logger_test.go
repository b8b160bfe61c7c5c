// Tests for logger.go

package wd_internal

import (
	"strings"
	"testing"

	wd_testutils "github.com/bgp59/watchdog/testutils"
)

func TestSrcPathPrefixAdd(t *testing.T) {
	p := &srcPathPrefixes{}

	for _, tc := range []struct {
		prefix       string
		wantPrefixes []string
	}{
		{"a/b", []string{"a/b/"}},
		{"a/b/c", []string{"a/b/c/", "a/b/"}},
		{"a", []string{"a/b/c/", "a/b/", "a/"}},
		{"a", []string{"a/b/c/", "a/b/", "a/"}},
		{"a/b/c/d/", []string{"a/b/c/d/", "a/b/c/", "a/b/", "a/"}},
	} {
		p.add(tc.prefix)
		if len(p.prefixes) != len(tc.wantPrefixes) {
			t.Fatalf("add(%q): len(prefixes): want %d, got %d", tc.prefix, len(tc.wantPrefixes), len(p.prefixes))
		}
		for i, want := range tc.wantPrefixes {
			if p.prefixes[i] != want {
				t.Errorf("add(%q): prefixes[%d]: want %q, got %q", tc.prefix, i, want, p.prefixes[i])
			}
		}
	}
}

func TestSrcPathPrefixStrip(t *testing.T) {
	for _, tc := range []struct {
		prefixes  []string
		keepNDirs int
		filePath  string
		want      string
	}{
		{[]string{"a/b/c/", "c/d/", "e/"}, 1, "a/b/c/d/e/f", "d/e/f"},
		{[]string{"a/b/c/", "c/d/", "e/"}, 1, "c/d/e/f/g", "e/f/g"},
		{[]string{"a/b/c/", "c/d/", "e/"}, 1, "e/f/g/h", "f/g/h"},
		// No prefix match, keep the last keepNDirs dirs:
		{nil, 1, "x/y/z/e", "z/e"},
		{nil, 2, "a/b/c", "a/b/c"},
		{nil, 3, "x/y/c/d", "x/y/c/d"},
	} {
		p := &srcPathPrefixes{prefixes: tc.prefixes, keepNDirs: tc.keepNDirs}
		if got := p.strip(tc.filePath); got != tc.want {
			t.Errorf("strip(%q): want %q, got %q", tc.filePath, tc.want, got)
		}
	}
}

func testLogConfig(t *testing.T, cfgData string) {
	tlc := wd_testutils.NewTestLogCollect(t, RootLogger, nil)
	defer tlc.RestoreLog()

	wdConfig, err := LoadConfig("", nil, []byte(strings.ReplaceAll(cfgData, "\t", "  ")))
	if err != nil {
		t.Fatal(err)
	}
	if err = SetLogger(wdConfig.LoggerConfig); err != nil {
		t.Fatal(err)
	}

	log1 := NewCompLogger("Comp1")
	log2 := NewCompLogger("Comp2")

	log1.Debug("debug test")
	log1.Info("info test")
	log1.Warn("warn test")
	log1.Error("error test")

	log2.Debug("debug test")
	log2.Info("info test")
	log2.Warn("warn test")
	log2.Error("error test")
}

func TestLogConfig(t *testing.T) {
	for name, cfgData := range map[string]string{
		"default": `
			wd_config:
		`,
		"debug_text": `
			wd_config:
				log_config:
					level: debug
					use_json: false
		`,
		"warn_json": `
			wd_config:
				log_config:
					level: warning
					use_json: true
		`,
	} {
		t.Run(name, func(t *testing.T) { testLogConfig(t, cfgData) })
	}
}

func TestSetLoggerBadLevel(t *testing.T) {
	logCfg := DefaultLoggerConfig()
	logCfg.Level = "no-such-level"
	if err := SetLogger(logCfg); err == nil {
		t.Fatal("want error for invalid level")
	}
}
