package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// mockKeyArg is the argument key carrying the recorded-data lookup key into
// mock backends; usageTagArg carries the profile usage slot of the call.
const (
	mockKeyArg  = "mock_key"
	usageTagArg = "usage_tag"
)

// UsageTag extracts the usage slot from call args inside a backend.
func UsageTag(args map[string]any) string {
	tag, _ := args[usageTagArg].(string)
	return tag
}

// MockKeyFromArgs extracts the recorded-data key from call args inside a
// mock backend.
func MockKeyFromArgs(args map[string]any) string {
	key, _ := args[mockKeyArg].(string)
	return key
}

// MockKey builds the recorded-data key for one plugin call. Caller is the
// invoking pipeline function, usage the profile slot, index the position of
// the call within a batch (0 for singular calls).
func MockKey(caller, usage string, index int) string {
	return fmt.Sprintf("%s|%s|%d", caller, usage, index)
}

// MockStore holds recorded plugin outputs keyed by MockKey. In replay mode
// the mock backends read from it; in record mode the registry writes every
// live call's output into it for later replay.
type MockStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string]json.RawMessage)}
}

// LoadMockData reads a recorded-data JSON file.
func LoadMockData(path string) (*MockStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load mock data: %w", err)
	}
	s := NewMockStore()
	if err := json.Unmarshal(data, &s.data); err != nil {
		return nil, fmt.Errorf("parse mock data %s: %w", path, err)
	}
	return s, nil
}

// Save writes the recorded data to a JSON file.
func (s *MockStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal mock data: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save mock data: %w", err)
	}
	return nil
}

// Lookup decodes the recorded value for key into out, reporting whether a
// recording exists.
func (s *MockStore) Lookup(key string, out any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("decode recorded value for %s: %w", key, err)
	}
	return true, nil
}

// Record stores a call's output under key.
func (s *MockStore) Record(key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		// Recorded values are plain data produced by backends; a marshal
		// failure is a programming error.
		panic(fmt.Sprintf("plugin: unrecordable mock value for %s: %v", key, err))
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
}

// Len reports the number of recordings.
func (s *MockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
