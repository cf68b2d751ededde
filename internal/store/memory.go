package store

import (
	"fmt"
	"maps"
	"sync"
)

// Memory is an in-process Store. It is durable only for the life of the value and is
// meant for tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	sections map[string]map[string]string
	order    []string

	// FailWrites, when set, is returned by every mutating call.
	FailWrites error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{sections: make(map[string]map[string]string)}
}

func (m *Memory) Create(section string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.sections[section]; ok {
		return fmt.Errorf("%s: %w", section, ErrExists)
	}
	m.sections[section] = maps.Clone(values)
	if m.sections[section] == nil {
		m.sections[section] = make(map[string]string)
	}
	m.order = append(m.order, section)
	return nil
}

func (m *Memory) ReadAll(section string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sec, ok := m.sections[section]
	if !ok {
		return nil, fmt.Errorf("%s: %w", section, ErrNotFound)
	}
	return maps.Clone(sec), nil
}

func (m *Memory) WriteKey(section, key, value string) error {
	return m.WriteKeys(section, map[string]string{key: value})
}

func (m *Memory) WriteKeys(section string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	sec, ok := m.sections[section]
	if !ok {
		return fmt.Errorf("%s: %w", section, ErrNotFound)
	}
	maps.Copy(sec, values)
	return nil
}

func (m *Memory) WriteSection(section string, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.sections[section]; !ok {
		return fmt.Errorf("%s: %w", section, ErrNotFound)
	}
	m.sections[section] = maps.Clone(values)
	if m.sections[section] == nil {
		m.sections[section] = make(map[string]string)
	}
	return nil
}

func (m *Memory) DeleteSection(section string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites != nil {
		return m.FailWrites
	}
	if _, ok := m.sections[section]; !ok {
		return nil
	}
	delete(m.sections, section)
	for i, name := range m.order {
		if name == section {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Sections(kind string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, name := range m.order {
		if k, _ := SplitSection(name); k == kind {
			out = append(out, name)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

// SetFailWrites toggles write failures under the store lock.
func (m *Memory) SetFailWrites(err error) {
	m.mu.Lock()
	m.FailWrites = err
	m.mu.Unlock()
}
