// Package environment owns the layered environment variable sets of stacks and
// terminals and flattens ("bakes") them into the environment a process receives.
//
// Precedence is total: owners passed later to Bake win over earlier owners, and
// within one owner a set with a higher Order wins over a lower one. Muting a key
// masks it at bake time without deleting it from the set.
package environment

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/GriffinCanCode/termstack/internal/shared/types"
)

// OSTitle is the reserved title of the host snapshot set
const OSTitle = "OS"

// ErrNotFound is returned when the owner or the addressed set does not exist
var ErrNotFound = errors.New("environment set not found")

// Store holds environment sets per owner id (stack or terminal)
type Store struct {
	mu     sync.RWMutex
	owners map[string][]types.EnvironmentSet
	hostFn func() []string
}

// NewStore creates an empty store that snapshots os.Environ for host sets
func NewStore() *Store {
	return &Store{
		owners: make(map[string][]types.EnvironmentSet),
		hostFn: os.Environ,
	}
}

// WithHostEnv replaces the host environment source. Used by tests.
func (s *Store) WithHostEnv(fn func() []string) *Store {
	s.hostFn = fn
	return s
}

// Register installs the initial sets of an owner, replacing any earlier registration.
// Unless omitOS is set, a host snapshot set is added at order 0 when none exists.
func (s *Store) Register(owner string, sets []types.EnvironmentSet, omitOS bool) {
	list := types.CloneSets(sets)
	if list == nil {
		list = []types.EnvironmentSet{}
	}
	for i := range list {
		if list[i].Pairs == nil {
			list[i].Pairs = map[string]string{}
		}
		if list[i].Disabled == nil {
			list[i].Disabled = []string{}
		}
	}

	if !omitOS && indexOfTitle(list, OSTitle) < 0 {
		for _, set := range list {
			if set.Order == 0 {
				for i := range list {
					list[i].Order++
				}
				break
			}
		}
		list = append(list, s.hostSet())
	}

	sortByOrder(list)

	s.mu.Lock()
	s.owners[owner] = list
	s.mu.Unlock()
}

// Unregister drops every set of an owner
func (s *Store) Unregister(owner string) {
	s.mu.Lock()
	delete(s.owners, owner)
	s.mu.Unlock()
}

// Has reports whether owner is registered
func (s *Store) Has(owner string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.owners[owner]
	return ok
}

// Sets returns a deep copy of an owner's sets in ascending order
func (s *Store) Sets(owner string) []types.EnvironmentSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return types.CloneSets(s.owners[owner])
}

// AddSet appends a set at the next order. An unknown owner is registered lazily
// with an empty list, so its first set gets order 0. A colliding title is
// suffixed with " (n)" using the first free n.
func (s *Store) AddSet(owner, title string, pairs map[string]string) types.EnvironmentSet {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.owners[owner]
	title = uniqueTitle(list, strings.TrimSpace(title))

	next := 0
	for _, set := range list {
		if set.Order >= next {
			next = set.Order + 1
		}
	}

	copied := make(map[string]string, len(pairs))
	for k, v := range pairs {
		copied[k] = v
	}

	set := types.EnvironmentSet{Title: title, Pairs: copied, Order: next, Disabled: []string{}}
	s.owners[owner] = append(list, set)
	return set.Clone()
}

// RemoveSet deletes the set at order and renumbers the rest contiguously from 0.
// The owner entry is dropped once no sets remain.
func (s *Store) RemoveSet(owner string, order int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.owners[owner]
	if !ok {
		return fmt.Errorf("%w: owner %s", ErrNotFound, owner)
	}
	idx := indexOfOrder(list, order)
	if idx < 0 {
		return fmt.Errorf("%w: owner %s order %d", ErrNotFound, owner, order)
	}

	list = append(list[:idx:idx], list[idx+1:]...)
	if len(list) == 0 {
		delete(s.owners, owner)
		return nil
	}

	sortByOrder(list)
	for i := range list {
		list[i].Order = i
	}
	s.owners[owner] = list
	return nil
}

// Mute toggles the disabled mask. With an empty key the whole set flips between
// "all keys disabled" and "none disabled"; otherwise one key's membership flips.
// Muting a key the set does not hold is a no-op.
func (s *Store) Mute(owner string, order int, key string) error {
	return s.withSet(owner, order, func(set *types.EnvironmentSet) {
		if key == "" {
			if allDisabled(set) {
				set.Disabled = []string{}
				return
			}
			keys := make([]string, 0, len(set.Pairs))
			for k := range set.Pairs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			set.Disabled = keys
			return
		}

		if _, ok := set.Pairs[key]; !ok {
			return
		}
		if set.IsDisabled(key) {
			set.Disabled = without(set.Disabled, key)
		} else {
			set.Disabled = append(set.Disabled, key)
		}
	})
}

// Edit upserts key=value. When previousKey is given and differs, the old key is
// renamed: it is removed and its disabled flag moves to key.
// An empty key (after trimming) is a no-op.
func (s *Store) Edit(owner string, order int, key, value, previousKey string) error {
	key = strings.TrimSpace(key)
	previousKey = strings.TrimSpace(previousKey)

	return s.withSet(owner, order, func(set *types.EnvironmentSet) {
		if key == "" {
			return
		}
		if previousKey != "" && previousKey != key {
			if _, ok := set.Pairs[previousKey]; ok {
				delete(set.Pairs, previousKey)
				if set.IsDisabled(previousKey) {
					set.Disabled = without(set.Disabled, previousKey)
					if !set.IsDisabled(key) {
						set.Disabled = append(set.Disabled, key)
					}
				}
			}
		}
		set.Pairs[key] = value
	})
}

// RemoveKey deletes one key from a set
func (s *Store) RemoveKey(owner string, order int, key string) error {
	return s.withSet(owner, order, func(set *types.EnvironmentSet) {
		delete(set.Pairs, key)
		set.Disabled = without(set.Disabled, key)
	})
}

// Flush replaces a set's pairs in place, or clears them when pairs is nil
func (s *Store) Flush(owner string, order int, pairs map[string]string) error {
	return s.withSet(owner, order, func(set *types.EnvironmentSet) {
		replaced := make(map[string]string, len(pairs))
		for k, v := range pairs {
			replaced[k] = v
		}
		set.Pairs = replaced
	})
}

// Bake flattens the sets of owners into one map. Owners are applied in the given
// order and each owner's sets in ascending Order, so later owners and higher
// orders win. Disabled keys are skipped, and with omitOS the host set is too.
func (s *Store) Bake(owners []string, omitOS bool) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]string)
	for _, owner := range owners {
		list := make([]types.EnvironmentSet, len(s.owners[owner]))
		copy(list, s.owners[owner])
		sortByOrder(list)

		for i := range list {
			set := &list[i]
			if omitOS && set.Title == OSTitle {
				continue
			}
			for k, v := range set.Pairs {
				if set.IsDisabled(k) {
					continue
				}
				result[k] = v
			}
		}
	}
	return result
}

// Environ renders a baked map as KEY=VALUE entries sorted by key
func Environ(baked map[string]string) []string {
	keys := make([]string, 0, len(baked))
	for k := range baked {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+baked[k])
	}
	return env
}

func (s *Store) withSet(owner string, order int, fn func(set *types.EnvironmentSet)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.owners[owner]
	if !ok {
		return fmt.Errorf("%w: owner %s", ErrNotFound, owner)
	}
	idx := indexOfOrder(list, order)
	if idx < 0 {
		return fmt.Errorf("%w: owner %s order %d", ErrNotFound, owner, order)
	}

	set := &list[idx]
	if set.Pairs == nil {
		set.Pairs = map[string]string{}
	}
	fn(set)
	return nil
}

func (s *Store) hostSet() types.EnvironmentSet {
	pairs := make(map[string]string)
	for _, kv := range s.hostFn() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		pairs[k] = v
	}
	return types.EnvironmentSet{Title: OSTitle, Pairs: pairs, Order: 0, Disabled: []string{}}
}

func uniqueTitle(list []types.EnvironmentSet, title string) string {
	if indexOfTitle(list, title) < 0 {
		return title
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", title, n)
		if indexOfTitle(list, candidate) < 0 {
			return candidate
		}
	}
}

func indexOfTitle(list []types.EnvironmentSet, title string) int {
	for i, set := range list {
		if set.Title == title {
			return i
		}
	}
	return -1
}

func indexOfOrder(list []types.EnvironmentSet, order int) int {
	for i, set := range list {
		if set.Order == order {
			return i
		}
	}
	return -1
}

func sortByOrder(list []types.EnvironmentSet) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
}

func allDisabled(set *types.EnvironmentSet) bool {
	if len(set.Pairs) == 0 {
		return len(set.Disabled) > 0
	}
	for k := range set.Pairs {
		if !set.IsDisabled(k) {
			return false
		}
	}
	return true
}

func without(keys []string, key string) []string {
	out := keys[:0:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
