package config

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied without a restart; everything else is reported so the
// operator can decide when to bounce the process.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProviderChanges []ProviderDiff

	// RestartRequired is true when anything other than the log level changed.
	RestartRequired bool
}

// ProviderDiff describes what changed for a single provider entry between two
// configs.
type ProviderDiff struct {
	ID       string
	Added    bool
	Removed  bool
	Modified bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldProviders := make(map[string]*ProviderEntry, len(old.Providers))
	for i := range old.Providers {
		oldProviders[old.Providers[i].ID] = &old.Providers[i]
	}
	newProviders := make(map[string]*ProviderEntry, len(new.Providers))
	for i := range new.Providers {
		newProviders[new.Providers[i].ID] = &new.Providers[i]
	}

	for id, oldP := range oldProviders {
		newP, exists := newProviders[id]
		if !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{ID: id, Removed: true})
			continue
		}
		if *oldP != *newP {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{ID: id, Modified: true})
		}
	}
	for id := range newProviders {
		if _, exists := oldProviders[id]; !exists {
			d.ProviderChanges = append(d.ProviderChanges, ProviderDiff{ID: id, Added: true})
		}
	}

	if len(d.ProviderChanges) > 0 ||
		old.Resilience != new.Resilience ||
		old.Monitor != new.Monitor ||
		old.Failover != new.Failover ||
		old.Store != new.Store {
		d.RestartRequired = true
	}

	return d
}
