// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"fmt"
	"strings"
)

// tree is the entry tree of one image. entries are stored in pre-order; the
// root is entries[0]. Children and parents are referenced by index.
type tree struct {
	entries  []Entry
	parent   []int
	children [][]int
	byPath   map[string]int
}

// buildTree walks src from the root in child order. Every inode is visited
// once; later references to an already visited inode are skipped.
func buildTree(src Source, log Logger) (*tree, error) {
	rootID := src.Root()

	type frame struct {
		id     InodeID
		path   Path
		parent int
	}
	t := &tree{byPath: make(map[string]int)}
	visited := make(map[InodeID]bool)
	stack := []frame{{id: rootID, parent: -1}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[f.id] {
			log.Debug("skip inode already in tree", "inode", f.id, "path", f.path.String())
			continue
		}
		visited[f.id] = true

		in, err := src.Inode(f.id)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrMalformedImage, f.path, err)
		}
		if f.parent < 0 && in.Kind != KindDirectory {
			return nil, fmt.Errorf("%w: root inode %d is a %s", ErrMalformedImage, f.id, in.Kind)
		}

		idx := len(t.entries)
		key := f.path.String()
		if _, dup := t.byPath[key]; dup {
			return nil, fmt.Errorf("%w: duplicate path %s", ErrMalformedImage, key)
		}
		t.entries = append(t.entries, newEntry(f.path, in))
		t.children = append(t.children, nil)
		t.byPath[key] = idx
		if f.parent < 0 {
			t.parent = append(t.parent, idx)
		} else {
			t.parent = append(t.parent, f.parent)
			t.children[f.parent] = append(t.children[f.parent], idx)
		}

		if in.Kind != KindDirectory {
			continue
		}
		for i := len(in.Children) - 1; i >= 0; i-- {
			c := in.Children[i]
			if !validName(c.Name) {
				return nil, fmt.Errorf("%w: %s has child named %q", ErrMalformedImage, key, c.Name)
			}
			stack = append(stack, frame{id: c.ID, path: f.path.Join(c.Name), parent: idx})
		}
	}
	return t, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsRune(name, '/')
}

func (t *tree) lookup(p Path) (int, bool) {
	idx, ok := t.byPath[p.String()]
	return idx, ok
}

func (t *tree) child(dir int, name string) (int, bool) {
	return t.lookup(t.entries[dir].Path.Join(name))
}
