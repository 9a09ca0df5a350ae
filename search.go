// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"context"
	"iter"
	"path"
	"strings"
)

// Predicate decides whether an entry matches a search. Implementations must
// not depend on traversal order and must be safe for concurrent use when
// passed to [FileSystem.ParFindAll].
type Predicate interface {
	Match(Entry) bool
}

// PredicateFunc adapts a function to [Predicate].
type PredicateFunc func(Entry) bool

// Match calls fn(e).
func (fn PredicateFunc) Match(e Entry) bool {
	return fn(e)
}

// PathContains matches entries whose "/"-rooted path contains s.
func PathContains(s string) Predicate {
	return PredicateFunc(func(e Entry) bool {
		return strings.Contains(e.Path.String(), s)
	})
}

// PathHasPrefix matches entries whose "/"-rooted path starts with prefix.
func PathHasPrefix(prefix string) Predicate {
	return PredicateFunc(func(e Entry) bool {
		return strings.HasPrefix(e.Path.String(), prefix)
	})
}

// PathHasSuffix matches entries whose path ends with suffix.
func PathHasSuffix(suffix string) Predicate {
	return PredicateFunc(func(e Entry) bool {
		return strings.HasSuffix(e.Path.String(), suffix)
	})
}

// NameMatches matches entries whose name matches the [path.Match] pattern.
// Malformed patterns match nothing.
func NameMatches(pattern string) Predicate {
	return PredicateFunc(func(e Entry) bool {
		ok, err := path.Match(pattern, e.Name())
		return err == nil && ok
	})
}

// KindIs matches entries of any of the given kinds.
func KindIs(kinds ...EntryKind) Predicate {
	return PredicateFunc(func(e Entry) bool {
		for _, k := range kinds {
			if e.Kind == k {
				return true
			}
		}
		return false
	})
}

// And matches entries matched by all ps.
func And(ps ...Predicate) Predicate {
	return PredicateFunc(func(e Entry) bool {
		for _, p := range ps {
			if !p.Match(e) {
				return false
			}
		}
		return true
	})
}

// Or matches entries matched by any of ps.
func Or(ps ...Predicate) Predicate {
	return PredicateFunc(func(e Entry) bool {
		for _, p := range ps {
			if p.Match(e) {
				return true
			}
		}
		return false
	})
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return PredicateFunc(func(e Entry) bool {
		return !p.Match(e)
	})
}

// Find returns the first entry in tree order matched by p. Symlinks are
// matched as symlinks.
func (f *FileSystem) Find(p Predicate) (Entry, bool) {
	for e := range f.FindAll(p) {
		return e, true
	}
	return Entry{}, false
}

// FindAll returns the entries matched by p lazily in tree order.
func (f *FileSystem) FindAll(p Predicate) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for e := range f.Entries() {
			if p.Match(e) && !yield(e) {
				return
			}
		}
	}
}

// ParFindAll evaluates p on the worker pool and returns all matches in tree
// order.
func (f *FileSystem) ParFindAll(ctx context.Context, p Predicate) ([]Entry, error) {
	matched := make([]bool, len(f.tree.entries))
	err := f.parallel(ctx, func(i int, e Entry) error {
		matched[i] = p.Match(e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	var out []Entry
	for i, ok := range matched {
		if ok {
			out = append(out, f.tree.entries[i].clone())
		}
	}
	return out, nil
}
