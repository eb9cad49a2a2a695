package profile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/yllada/vpnrdp-manager/common"
)

// Store manages profiles persisted as a JSON object keyed by name.
// It is safe for concurrent use; callers always receive copies.
type Store struct {
	mu       sync.RWMutex
	path     string
	profiles map[string]Profile
}

// DefaultPath returns ~/.config/vpnrdp/connections.json.
func DefaultPath() (string, error) {
	return common.ConfigPath(common.ProfilesFileName)
}

// NewStore opens the profile file at path. A missing file is an empty store.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:     path,
		profiles: make(map[string]Profile),
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load replaces the in-memory profiles with the file contents.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read profiles file: %w", err)
	}

	raw := make(map[string]json.RawMessage)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse profiles file: %w", err)
		}
	}

	// Each record is decoded onto the defaults, so keys an older file
	// lacks keep their default value.
	loaded := make(map[string]Profile, len(raw))
	for name, entry := range raw {
		p := New(name)
		if err := json.Unmarshal(entry, &p); err != nil {
			return fmt.Errorf("failed to parse profile %s: %w", name, err)
		}
		// The map key is authoritative; older files may lack the name field.
		p.Name = name
		loaded[name] = p
	}

	s.mu.Lock()
	s.profiles = loaded
	s.mu.Unlock()
	return nil
}

// save must be called with mu held.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.profiles, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize profiles: %w", err)
	}
	if err := common.WriteFilePrivate(s.path, data); err != nil {
		return fmt.Errorf("failed to write profiles file: %w", err)
	}
	return nil
}

// Add stores a new profile. The name must be unused.
func (s *Store) Add(p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.profiles[p.Name]; exists {
		return fmt.Errorf("%w: %s", common.ErrDuplicateName, p.Name)
	}
	s.profiles[p.Name] = p.Clone()
	if err := s.save(); err != nil {
		delete(s.profiles, p.Name)
		return err
	}
	return nil
}

// Update replaces the profile stored under oldName. Renaming is allowed
// as long as the new name is not taken by another profile.
func (s *Store) Update(oldName string, p Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.profiles[oldName]
	if !exists {
		return fmt.Errorf("%w: %s", common.ErrProfileNotFound, oldName)
	}
	if p.Name != oldName {
		if _, taken := s.profiles[p.Name]; taken {
			return fmt.Errorf("%w: %s", common.ErrDuplicateName, p.Name)
		}
		delete(s.profiles, oldName)
	}
	s.profiles[p.Name] = p.Clone()

	if err := s.save(); err != nil {
		delete(s.profiles, p.Name)
		s.profiles[oldName] = prev
		return err
	}
	return nil
}

// Remove deletes a profile by name.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.profiles[name]
	if !exists {
		return fmt.Errorf("%w: %s", common.ErrProfileNotFound, name)
	}
	delete(s.profiles, name)
	if err := s.save(); err != nil {
		s.profiles[name] = prev
		return err
	}
	return nil
}

// Get returns a copy of the named profile.
func (s *Store) Get(name string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.profiles[name]
	if !exists {
		return Profile{}, fmt.Errorf("%w: %s", common.ErrProfileNotFound, name)
	}
	return p.Clone(), nil
}

// Exists reports whether a profile with this name is stored.
func (s *Store) Exists(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[name]
	return ok
}

// List returns copies of all profiles sorted by name.
func (s *Store) List() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		list = append(list, p.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Names returns the sorted profile names.
func (s *Store) Names() []string {
	list := s.List()
	names := make([]string, len(list))
	for i, p := range list {
		names[i] = p.Name
	}
	return names
}
