// SPDX-License-Identifier: Unlicense OR MIT

package transfer

import "sync"

// Source provides data owned by this application to other
// applications, for example the clipboard contents after a copy.
type Source interface {
	// Formats returns the formats the data can be provided in.
	Formats() []Format
	// Data returns the data in format f, or false if it cannot be
	// provided.
	Data(f Format) ([]byte, bool)
}

// Provide answers a request for the native format name from src. It
// returns the matched format and its data.
func Provide(src Source, native string) ([]byte, Format, bool) {
	for _, f := range src.Formats() {
		if f.Match(native) {
			data, ok := src.Data(f)
			return data, f, ok
		}
	}
	return nil, Format{}, false
}

// NativeNames returns the names a peer should be offered for src: the
// canonical name of each format followed by its aliases.
func NativeNames(src Source) []string {
	var names []string
	for _, f := range src.Formats() {
		names = append(names, f.Name)
		names = append(names, f.Aliases...)
	}
	return names
}

// Memory is a Source holding its data in memory.
type Memory struct {
	mu      sync.RWMutex
	formats []Format
	data    map[string][]byte
}

// NewMemory returns an empty Memory source.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Set stores data for f, replacing earlier data in the same format.
func (m *Memory) Set(f Format, data []byte) *Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[f.Name]; !ok {
		m.formats = append(m.formats, f)
	}
	m.data[f.Name] = data
	return m
}

// SetValue encodes v in format f and stores the result.
func (m *Memory) SetValue(f Format, v any) error {
	data, err := Encode(v, f)
	if err != nil {
		return err
	}
	m.Set(f, data)
	return nil
}

func (m *Memory) Formats() []Format {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Format(nil), m.formats...)
}

func (m *Memory) Data(f Format) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[f.Name]
	return data, ok
}
