package logger

import "testing"

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "json", false},
		{"debug", "console", false},
		{"warn", "json", false},
		{"verbose", "json", true},
	} {
		log, err := New(tc.level, tc.format)
		if tc.wantErr {
			if err == nil {
				t.Errorf("New(%q, %q) accepted", tc.level, tc.format)
			}
			continue
		}
		if err != nil {
			t.Errorf("New(%q, %q): %v", tc.level, tc.format, err)
			continue
		}
		log.Debug("probe")
		_ = log.Sync()
	}
}
