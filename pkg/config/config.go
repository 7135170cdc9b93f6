// Package config provides configuration management for the guard selection core.
package config

import (
	"fmt"
	"time"

	"github.com/opd-ai/tor-guardsim/pkg/autoconfig"
)

// GuardParams holds the tunable constants of the entry-guard selection
// algorithm, as enumerated in proposal 259.
type GuardParams struct {
	// NumPrimaryGuards is the size of the primary ring (N_PRIMARY_GUARDS).
	NumPrimaryGuards int

	// PrimaryGuardsRetryInterval is the staleness threshold after which a
	// primary guard forces preemption back to PRIMARY_GUARDS.
	PrimaryGuardsRetryInterval time.Duration

	// SampleSetThreshold is the fraction of the consensus pool that must be
	// covered by non-bad entries in each sampled set.
	SampleSetThreshold float64

	// InternetLikelyDownInterval triggers the "network just came back"
	// re-convergence behavior in shouldContinue.
	InternetLikelyDownInterval time.Duration

	// PrioritizeBandwidth selects between a bandwidth-weighted chooser and
	// a uniform one for the weightedChoice oracle.
	PrioritizeBandwidth bool

	// BuildCircuitTimeout bounds the number of candidates a single circuit
	// attempt will pull from a session before giving up.
	BuildCircuitTimeout int

	// GuardLifetime is the maximum age (since addedAt) a never-used guard
	// record may reach before removeObsoleteEntryGuards evicts it; guards in
	// usedGuards are not evicted by age.
	GuardLifetime time.Duration

	// EntryGuardRemoveAfter is the maximum age a badSince timestamp may
	// reach before removeDeadEntryGuards evicts the guard.
	EntryGuardRemoveAfter time.Duration
}

// DefaultGuardParams returns the defaults named in the specification.
func DefaultGuardParams() GuardParams {
	return GuardParams{
		NumPrimaryGuards:           3,
		PrimaryGuardsRetryInterval: 3 * time.Minute,
		SampleSetThreshold:         0.02,
		InternetLikelyDownInterval: 5 * time.Minute,
		PrioritizeBandwidth:        true,
		BuildCircuitTimeout:        30,
		GuardLifetime:              30 * 24 * time.Hour,
		EntryGuardRemoveAfter:      30 * 24 * time.Hour,
	}
}

// Validate checks that the guard parameters are usable.
func (p GuardParams) Validate() error {
	if p.NumPrimaryGuards < 1 {
		return fmt.Errorf("NumPrimaryGuards must be at least 1")
	}
	if p.PrimaryGuardsRetryInterval <= 0 {
		return fmt.Errorf("PrimaryGuardsRetryInterval must be positive")
	}
	if p.SampleSetThreshold <= 0 || p.SampleSetThreshold > 1 {
		return fmt.Errorf("SampleSetThreshold must be in (0, 1]")
	}
	if p.InternetLikelyDownInterval <= 0 {
		return fmt.Errorf("InternetLikelyDownInterval must be positive")
	}
	if p.BuildCircuitTimeout < 1 {
		return fmt.Errorf("BuildCircuitTimeout must be at least 1")
	}
	if p.GuardLifetime <= 0 {
		return fmt.Errorf("GuardLifetime must be positive")
	}
	if p.EntryGuardRemoveAfter <= 0 {
		return fmt.Errorf("EntryGuardRemoveAfter must be positive")
	}
	return nil
}

// Config represents the configuration of the guard selection core and its
// ambient concerns (persistence location, logging).
type Config struct {
	// DataDirectory is where durable guard state is persisted.
	DataDirectory string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// ExcludeNodes lists relay fingerprints the selection algorithm must
	// never consider (operator-level exclusion list).
	ExcludeNodes []string

	// SweepInterval is how often the background eviction sweep
	// (removeObsoleteEntryGuards / removeDeadEntryGuards) runs. Zero
	// disables the background scheduler; callers may still invoke the
	// sweep manually.
	SweepInterval time.Duration

	// Guards holds the guard selection algorithm's tunables.
	Guards GuardParams
}

// DefaultConfig returns a configuration with sensible defaults, using an
// auto-detected, platform-appropriate data directory.
func DefaultConfig() *Config {
	dataDir, err := autoconfig.GetDefaultDataDir()
	if err != nil {
		dataDir = "./tor-guardsim-data"
	}

	return &Config{
		DataDirectory: dataDir,
		LogLevel:      "info",
		ExcludeNodes:  []string{},
		SweepInterval: time.Hour,
		Guards:        DefaultGuardParams(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDirectory == "" {
		return fmt.Errorf("DataDirectory is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid LogLevel: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.SweepInterval < 0 {
		return fmt.Errorf("SweepInterval must be non-negative")
	}

	if err := c.Guards.Validate(); err != nil {
		return fmt.Errorf("invalid guard parameters: %w", err)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.ExcludeNodes = append([]string{}, c.ExcludeNodes...)
	return &clone
}
