package path

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opd-ai/tor-guardsim/pkg/autoconfig"
	"github.com/opd-ai/tor-guardsim/pkg/logger"
)

// persistedState is the on-disk shape of a Controller's durable state: the
// registry's guard records plus the primary ring, used-guards list, and
// sampled utopic/dystopic sets that give them meaning.
type persistedState struct {
	Guards                []*Guard  `json:"guards"`
	PrimaryGuards         []string  `json:"primary_guards"`
	UsedGuards            []string  `json:"used_guards"`
	SampledUtopicGuards   []string  `json:"sampled_utopic_guards"`
	SampledDystopicGuards []string  `json:"sampled_dystopic_guards"`
	LastUpdated           time.Time `json:"last_updated"`
}

// Store persists a Controller's guard state to a JSON file on disk, using
// a write-to-temp-then-rename sequence so a crash mid-write never leaves a
// truncated state file behind.
type Store struct {
	logger *logger.Logger
	path   string
	mu     sync.Mutex
}

// NewStore creates a Store backed by "guard_state.json" inside a "guards"
// subdirectory of dataDir, creating both as necessary.
func NewStore(dataDir string, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDefault()
	}

	if err := autoconfig.EnsureDataDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := autoconfig.CleanupTempFiles(dataDir); err != nil {
		log.Component("guard-store").Warn("failed to clean up leftover temp files", "error", err)
	}

	guardDir, err := autoconfig.EnsureSubDir(dataDir, "guards")
	if err != nil {
		return nil, fmt.Errorf("failed to create guard state subdirectory: %w", err)
	}

	return &Store{
		logger: log.Component("guard-store"),
		path:   filepath.Join(guardDir, "guard_state.json"),
	}, nil
}

// Load reads persisted state from disk, if any, and populates c's registry
// and orderings. A missing file is not an error: a fresh client simply
// starts with empty state.
func (st *Store) Load(c *Controller) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := os.ReadFile(st.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse guard state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, g := range state.Guards {
		c.registry.Put(g)
	}
	c.primaryGuards = state.PrimaryGuards
	c.usedGuards = state.UsedGuards
	c.sampledUtopicGuards = state.SampledUtopicGuards
	c.sampledDystopicGuards = state.SampledDystopicGuards

	st.logger.Info("loaded guard state",
		"guards", len(state.Guards),
		"primary", len(state.PrimaryGuards),
		"used", len(state.UsedGuards),
		"last_updated", state.LastUpdated)

	return nil
}

// Save writes c's current registry and orderings to disk atomically.
func (st *Store) Save(c *Controller) error {
	c.mu.Lock()
	var guards []*Guard
	c.registry.Range(func(g *Guard) bool {
		guards = append(guards, g)
		return true
	})
	state := persistedState{
		Guards:                guards,
		PrimaryGuards:         append([]string(nil), c.primaryGuards...),
		UsedGuards:            append([]string(nil), c.usedGuards...),
		SampledUtopicGuards:   append([]string(nil), c.sampledUtopicGuards...),
		SampledDystopicGuards: append([]string(nil), c.sampledDystopicGuards...),
		LastUpdated:           time.Now(),
	}
	c.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal guard state: %w", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	tmpFile := st.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write guard state: %w", err)
	}
	if err := os.Rename(tmpFile, st.path); err != nil {
		return fmt.Errorf("failed to rename guard state file: %w", err)
	}

	st.logger.Debug("saved guard state", "guards", len(guards))
	return nil
}
