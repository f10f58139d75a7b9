package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. The log level,
// speaker threshold and filler vocabulary are applied live; every other
// changed section is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ThresholdChanged bool
	NewThreshold     float64

	FillerTokensChanged bool
	NewFillerTokens     []string

	// RestartRequired names top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// HasLiveChanges reports whether any hot-reloadable field changed.
func (d ConfigDiff) HasLiveChanges() bool {
	return d.LogLevelChanged || d.ThresholdChanged || d.FillerTokensChanged
}

// Diff compares old and new configs.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Speaker.Threshold != new.Speaker.Threshold {
		d.ThresholdChanged = true
		d.NewThreshold = new.Speaker.Threshold
	}
	if !slices.Equal(old.Transcribe.FillerTokens, new.Transcribe.FillerTokens) {
		d.FillerTokensChanged = true
		d.NewFillerTokens = slices.Clone(new.Transcribe.FillerTokens)
	}

	// Compare the remaining fields section by section with the live ones
	// masked out.
	o, n := *old, *new
	o.Server.LogLevel, n.Server.LogLevel = "", ""
	o.Speaker.Threshold, n.Speaker.Threshold = 0, 0
	o.Transcribe.FillerTokens, n.Transcribe.FillerTokens = nil, nil

	ov, nv := reflect.ValueOf(o), reflect.ValueOf(n)
	t := ov.Type()
	for i := range t.NumField() {
		if !reflect.DeepEqual(ov.Field(i).Interface(), nv.Field(i).Interface()) {
			d.RestartRequired = append(d.RestartRequired, t.Field(i).Tag.Get("yaml"))
		}
	}
	return d
}
