package kafka

import (
	"fmt"
	"slices"
	"sync"
)

// DefaultDriver is used when the configuration does not name one.
const DefaultDriver = "sarama"

// Factory builds an Adapter (e.g. SaramaDriver, KafkaGoDriver).
type Factory func() Adapter

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register is called from each driver's init().
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// NewAdapter returns a driver by name ("sarama", "kafka-go"). An empty name
// selects DefaultDriver.
func NewAdapter(name string) (Adapter, error) {
	if name == "" {
		name = DefaultDriver
	}
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kafka: unsupported driver %q", name)
	}
	return f(), nil
}

// Drivers lists the registered driver names.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
