// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

// Resolve follows e through symlinks until it reaches an entry that is not a
// symlink. Entries of other kinds are returned unchanged.
//
// Absolute targets are resolved from the image root, relative targets from
// the directory holding the link. ".." at the root stays at the root, and
// symlinks used as intermediate directories are followed. Failures are
// reported as *[SymlinkError].
func (f *FileSystem) Resolve(e Entry) (Entry, error) {
	if e.Kind != KindSymlink {
		return e, nil
	}
	idx, ok := f.tree.lookup(e.Path)
	if !ok {
		return Entry{}, &SymlinkError{Path: e.Path.String(), Target: e.Target, Err: ErrNotFound}
	}
	r := f.newResolver()
	end, err := r.follow(idx)
	if err != nil {
		return Entry{}, &SymlinkError{Path: e.Path.String(), Target: e.Target, Err: err}
	}
	return f.tree.entries[end].clone(), nil
}

// resolveIndex looks up p from the root, following every symlink on the way
// including a final one.
func (f *FileSystem) resolveIndex(p string) (int, error) {
	r := f.newResolver()
	idx, err := r.walk(0, "/"+p)
	if err != nil {
		return -1, err
	}
	return r.follow(idx)
}

// minFollowBudget is the number of links a lookup may always follow, the
// same as the kernel allows for one path.
const minFollowBudget = 40

type resolver struct {
	t      *tree
	active map[InodeID]bool
	// depth bounds the links of one chain, budget all links followed by
	// one lookup including those of intermediate components.
	depth  int
	budget int
}

func (f *FileSystem) newResolver() *resolver {
	depth := len(f.tree.entries)
	if d := f.cfg.MaxSymlinkDepth(); d > 0 && d < depth {
		depth = d
	}
	return &resolver{
		t:      f.tree,
		active: make(map[InodeID]bool),
		depth:  depth,
		budget: max(len(f.tree.entries), minFollowBudget),
	}
}

// follow resolves the chain of symlinks starting at entry idx and returns the
// index of the first entry that is not a symlink. Links on the chain stay
// active while it is being resolved, so reaching one of them again, directly
// or through an intermediate directory component, is a cycle.
func (r *resolver) follow(idx int) (int, error) {
	var chain []InodeID
	defer func() {
		for _, id := range chain {
			delete(r.active, id)
		}
	}()
	for {
		e := &r.t.entries[idx]
		if e.Kind != KindSymlink {
			return idx, nil
		}
		if r.active[e.Inode] {
			return -1, ErrSymlinkCycle
		}
		if len(chain) >= r.depth || r.budget == 0 {
			return -1, ErrResolutionDepthExceeded
		}
		r.budget--
		r.active[e.Inode] = true
		chain = append(chain, e.Inode)

		dir, _ := r.t.lookup(e.Path.Dir())
		next, err := r.walk(dir, e.Target)
		if err != nil {
			return -1, err
		}
		idx = next
	}
}

// walk looks up target starting at directory dir. The final component is
// returned without following it.
func (r *resolver) walk(dir int, target string) (int, error) {
	if target == "" {
		return -1, ErrDanglingSymlink
	}
	if target[0] == '/' {
		dir = 0
	}
	names := ParsePath(target)
	cur := dir
	for i, name := range names {
		if name == ".." {
			cur = r.t.parent[cur]
			continue
		}
		next, ok := r.t.child(cur, name)
		if !ok {
			return -1, ErrDanglingSymlink
		}
		if i < len(names)-1 {
			var err error
			if next, err = r.follow(next); err != nil {
				return -1, err
			}
			if r.t.entries[next].Kind != KindDirectory {
				return -1, ErrDanglingSymlink
			}
		}
		cur = next
	}
	return cur, nil
}
