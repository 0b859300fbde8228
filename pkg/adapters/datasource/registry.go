package datasource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrDependencyMissing is returned by a constructor when an optional
// capability it needs (driver, SDK credentials, runtime file) is unavailable.
var ErrDependencyMissing = errors.New("connector dependency missing")

// ErrCredentialsMissing is returned by TestConnection when the data source
// has no usable credentials stored.
var ErrCredentialsMissing = errors.New("authentication credentials not configured")

// Constructor builds an extractor from resolved parameters.
type Constructor func(params Params) (Extractor, error)

// ConnectorInfo describes a registered connector for discovery.
type ConnectorInfo struct {
	Key         string `json:"key"`          // "mysql", "databricks"
	DisplayName string `json:"display_name"` // "MySQL"
	Description string `json:"description"`
}

// Registration contains info, aliases and the constructor of one connector.
type Registration struct {
	Info    ConnectorInfo
	Aliases []string // additional keys that resolve to the same constructor
	New     Constructor
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Registration)
)

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Register is called by each connector's init() function.
// Keys are case-insensitive; a later registration replaces an earlier one.
func Register(reg Registration) {
	if err := validateRegistration(reg.Info.Key, reg.New); err != nil {
		panic(err)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normalizeKey(reg.Info.Key)] = reg
	for _, alias := range reg.Aliases {
		registry[normalizeKey(alias)] = reg
	}
}

// RegisterExtractor adds a connector at runtime.
func RegisterExtractor(key string, ctor Constructor) error {
	if err := validateRegistration(key, ctor); err != nil {
		return err
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	registry[normalizeKey(key)] = Registration{
		Info: ConnectorInfo{Key: normalizeKey(key), DisplayName: key},
		New:  ctor,
	}
	return nil
}

func validateRegistration(key string, ctor Constructor) error {
	if normalizeKey(key) == "" {
		return fmt.Errorf("connector key is required")
	}
	if ctor == nil {
		return fmt.Errorf("connector %q: constructor is required", key)
	}
	return nil
}

// SupportedConnectors returns every registered key, aliases included, sorted.
func SupportedConnectors() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	keys := make([]string, 0, len(registry))
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// RegisteredConnectors returns info for each distinct registered connector.
func RegisteredConnectors() []ConnectorInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool, len(registry))
	result := make([]ConnectorInfo, 0, len(registry))
	for _, reg := range registry {
		if seen[reg.Info.Key] {
			continue
		}
		seen[reg.Info.Key] = true
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result
}

// IsRegistered checks if a connector key is available.
func IsRegistered(key string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[normalizeKey(key)]
	return ok
}

func lookup(key string) (Registration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[normalizeKey(key)]
	return reg, ok
}

func unregister(key string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, normalizeKey(key))
}
