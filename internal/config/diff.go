package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; backend lists,
// audio devices, and network settings require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SpeechChanged is true when the voice or speaking rate changed.
	SpeechChanged bool
	NewSpeech     SpeechConfig

	// QuotaChanges lists per-backend quota window changes.
	QuotaChanges []QuotaDiff
}

// QuotaDiff describes a quota change for a single capability backend.
type QuotaDiff struct {
	Capability string
	Backend    string
	Changed    bool
	Added      bool
	Removed    bool
	New        QuotaConfig
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Speech != new.Speech {
		d.SpeechChanged = true
		d.NewSpeech = new.Speech
	}

	d.QuotaChanges = append(d.QuotaChanges, diffQuota("stt", old.Capabilities.STT, new.Capabilities.STT)...)
	d.QuotaChanges = append(d.QuotaChanges, diffQuota("ai", old.Capabilities.AI, new.Capabilities.AI)...)
	d.QuotaChanges = append(d.QuotaChanges, diffQuota("tts", old.Capabilities.TTS, new.Capabilities.TTS)...)

	return d
}

// diffQuota compares one capability's backend lists by name.
func diffQuota(capability string, old, new []BackendEntry) []QuotaDiff {
	var diffs []QuotaDiff

	oldByName := make(map[string]BackendEntry, len(old))
	for _, e := range old {
		oldByName[e.Name] = e
	}
	newByName := make(map[string]BackendEntry, len(new))
	for _, e := range new {
		newByName[e.Name] = e
	}

	for name, oldEntry := range oldByName {
		newEntry, exists := newByName[name]
		if !exists {
			diffs = append(diffs, QuotaDiff{Capability: capability, Backend: name, Removed: true})
			continue
		}
		if oldEntry.Quota != newEntry.Quota {
			diffs = append(diffs, QuotaDiff{
				Capability: capability,
				Backend:    name,
				Changed:    true,
				New:        newEntry.Quota,
			})
		}
	}
	for name := range newByName {
		if _, exists := oldByName[name]; !exists {
			diffs = append(diffs, QuotaDiff{
				Capability: capability,
				Backend:    name,
				Added:      true,
				New:        newByName[name].Quota,
			})
		}
	}

	return diffs
}
