// Package store is the durable key-value persistence used by the entity model: one
// section per pool, category or task, each a flat map of string options.
package store

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a section does not exist.
	ErrNotFound = errors.New("section not found")
	// ErrExists is returned by Create when the section is already present.
	ErrExists = errors.New("section already exists")
	// ErrLocked is returned by Open when another process holds the state directory.
	ErrLocked = errors.New("state directory is locked by another process")
)

// Store persists sections. Every write is durable when the call returns.
type Store interface {
	// Create adds a new section with the given values.
	Create(section string, values map[string]string) error
	// ReadAll returns a copy of every key in the section.
	ReadAll(section string) (map[string]string, error)
	// WriteKey sets one key in an existing section.
	WriteKey(section, key, value string) error
	// WriteKeys sets several keys of an existing section in one atomic write.
	WriteKeys(section string, values map[string]string) error
	// WriteSection replaces the whole content of an existing section.
	WriteSection(section string, values map[string]string) error
	// DeleteSection removes a section and all its keys. Deleting a missing section is not an error.
	DeleteSection(section string) error
	// Sections lists section names of the given kind, in creation order.
	Sections(kind string) ([]string, error)
	Close() error
}

// Section builds the section name for an entity.
func Section(kind, id string) string {
	return kind + "/" + id
}

// SplitSection is the inverse of Section.
func SplitSection(section string) (kind, id string) {
	kind, id, _ = strings.Cut(section, "/")
	return kind, id
}
