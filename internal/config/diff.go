package config

// ConfigDiff describes what changed between two configs. Only fields that
// are safe to hot-reload are tracked — streaming/VAD/transcription
// parameters apply to sessions created after the reload; sessions already
// in flight keep the strategy and VAD they were constructed with.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	StreamingChanged bool
	VADChanged       bool
	RateLimitChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Streaming != new.Streaming {
		d.StreamingChanged = true
	}
	if old.VAD != new.VAD {
		d.VADChanged = true
	}
	if old.RateLimit != new.RateLimit {
		d.RateLimitChanged = true
	}

	return d
}
