// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package appimage

import (
	"bufio"
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-squishy"
)

// Kind is a kind of AppImage resource.
type Kind int

const (
	KindIcon      Kind = iota + 1 // application icon
	KindDesktop                   // desktop entry
	KindAppStream                 // AppStream metadata
)

func (k Kind) String() string {
	switch k {
	case KindIcon:
		return "icon"
	case KindDesktop:
		return "desktop"
	case KindAppStream:
		return "appstream"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Rules are the file name conventions used to locate resources. Extensions
// and suffixes are compared case-insensitively; directories are "/"-rooted.
type Rules struct {
	// DirIcon is the name of the icon file at the image root.
	DirIcon string

	// IconExtensions are the icon file extensions in order of preference,
	// without the dot.
	IconExtensions []string

	// IconDirs are preferred over the rest of the image.
	IconDirs []string

	// DesktopExtension is the extension of desktop entries.
	DesktopExtension string

	// AppStreamDirs are the directories holding AppStream metadata.
	AppStreamDirs []string

	// AppStreamSuffixes are the accepted metadata file name suffixes.
	AppStreamSuffixes []string
}

// DefaultRules returns the conventions of the AppImage and freedesktop.org
// specifications.
func DefaultRules() Rules {
	return Rules{
		DirIcon:           ".DirIcon",
		IconExtensions:    []string{"png", "svg", "svgz"},
		IconDirs:          []string{"/usr/share/icons", "/usr/share/pixmaps"},
		DesktopExtension:  ".desktop",
		AppStreamDirs:     []string{"/usr/share/metainfo", "/usr/share/appdata"},
		AppStreamSuffixes: []string{".appdata.xml", ".metainfo.xml"},
	}
}

type options struct {
	filter string
	appID  string
	rules  Rules
}

// Option adjusts [Locate].
type Option func(*options)

// WithFilter restricts results to entries whose "/"-rooted path contains
// substr. The match is case-sensitive and applies to the path of the link,
// not of the file it resolves to.
func WithFilter(substr string) Option {
	return func(o *options) {
		o.filter = substr
	}
}

// WithAppID sets the application identifier icons are matched against. By
// default it is taken from the Icon key of the first desktop entry, or from
// the desktop entry name.
func WithAppID(id string) Option {
	return func(o *options) {
		o.appID = id
	}
}

// WithRules replaces [DefaultRules].
func WithRules(r Rules) Option {
	return func(o *options) {
		o.rules = r
	}
}

// Locate finds the resources of the requested kinds in fsys. Every requested
// kind is present in the result, in order of preference; a kind without
// matches maps to an empty slice. Symlinked resources are reported as their
// final file; dangling and cyclic links are skipped.
//
// The [WithFilter] substring is matched before symlinks are resolved: a
// link whose own path contains it is kept even if its target's path does
// not, and a file reached only through links whose paths lack it is not
// found.
func Locate(ctx context.Context, fsys *squishy.FileSystem, kinds []Kind, opts ...Option) (map[Kind][]squishy.Entry, error) {
	o := options{rules: DefaultRules()}
	for _, opt := range opts {
		opt(&o)
	}
	l := &locator{fsys: fsys, opts: o}

	out := make(map[Kind][]squishy.Entry, len(kinds))
	var desktops []squishy.Entry
	var err error
	if slices.Contains(kinds, KindDesktop) || slices.Contains(kinds, KindIcon) {
		if desktops, err = l.desktops(ctx); err != nil {
			return nil, err
		}
	}

	for _, k := range kinds {
		var found []squishy.Entry
		switch k {
		case KindDesktop:
			found = desktops
		case KindIcon:
			found, err = l.icons(ctx, desktops)
		case KindAppStream:
			found, err = l.appStream(ctx)
		default:
			return nil, fmt.Errorf("unknown resource kind %s", k)
		}
		if err != nil {
			return nil, err
		}
		if found == nil {
			found = []squishy.Entry{}
		}
		out[k] = found
	}
	return out, nil
}

type locator struct {
	fsys *squishy.FileSystem
	opts options
}

// candidates returns the file and symlink entries matched by p and the
// filter, in tree order.
func (l *locator) candidates(ctx context.Context, p squishy.Predicate) ([]squishy.Entry, error) {
	preds := []squishy.Predicate{squishy.KindIs(squishy.KindFile, squishy.KindSymlink), p}
	if l.opts.filter != "" {
		preds = append(preds, squishy.PathContains(l.opts.filter))
	}
	return l.fsys.ParFindAll(ctx, squishy.And(preds...))
}

// resolve replaces symlinks by their final file and drops everything that
// does not end in a regular file, as well as duplicates.
func (l *locator) resolve(entries []squishy.Entry) []squishy.Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0]
	for _, e := range entries {
		r, err := l.fsys.Resolve(e)
		if err != nil {
			l.fsys.Config().Logger().Debug("skipping resource candidate", "path", e.Path.String(), "error", err)
			continue
		}
		if r.Kind != squishy.KindFile || seen[r.Path.String()] {
			continue
		}
		seen[r.Path.String()] = true
		out = append(out, r)
	}
	return out
}

func (l *locator) desktops(ctx context.Context) ([]squishy.Entry, error) {
	found, err := l.candidates(ctx, hasSuffixFold(l.opts.rules.DesktopExtension))
	if err != nil {
		return nil, err
	}
	// root level entries first
	slices.SortStableFunc(found, func(a, b squishy.Entry) int {
		return rootRank(a) - rootRank(b)
	})
	return l.resolve(found), nil
}

func rootRank(e squishy.Entry) int {
	if len(e.Path) == 1 {
		return 0
	}
	return 1
}

func (l *locator) appStream(ctx context.Context) ([]squishy.Entry, error) {
	rules := l.opts.rules
	found, err := l.candidates(ctx, squishy.PredicateFunc(func(e squishy.Entry) bool {
		if !slices.Contains(rules.AppStreamDirs, e.Path.Dir().String()) {
			return false
		}
		for _, s := range rules.AppStreamSuffixes {
			if hasSuffixFold(s).Match(e) {
				return true
			}
		}
		return false
	}))
	if err != nil {
		return nil, err
	}
	return l.resolve(found), nil
}

// icons ranks icon candidates: the root icon first, then icons below the
// icon directories, then the rest. Within each group extensions follow the
// rules; png icons are ordered by size, largest first.
func (l *locator) icons(ctx context.Context, desktops []squishy.Entry) ([]squishy.Entry, error) {
	id, explicit := l.opts.appID, l.opts.appID != ""
	if !explicit && len(desktops) > 0 {
		id = l.iconKey(desktops[0])
	}

	found, err := l.iconCandidates(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 && id != "" && !explicit {
		if found, err = l.iconCandidates(ctx, ""); err != nil {
			return nil, err
		}
	}
	return found, nil
}

type rankedIcon struct {
	e             squishy.Entry
	group, extIdx int
}

func (l *locator) iconCandidates(ctx context.Context, id string) ([]squishy.Entry, error) {
	rules := l.opts.rules
	found, err := l.candidates(ctx, squishy.PredicateFunc(func(e squishy.Entry) bool {
		if len(e.Path) == 1 && e.Name() == rules.DirIcon {
			return true
		}
		if extIndex(rules.IconExtensions, e.Path.Ext()) < 0 {
			return false
		}
		return id == "" || e.Path.Stem() == id
	}))
	if err != nil {
		return nil, err
	}

	ranked := make([]rankedIcon, 0, len(found))
	for _, e := range found {
		r := rankedIcon{group: 2}
		switch {
		case len(e.Path) == 1 && e.Name() == rules.DirIcon:
			r.group = 0
		case underAny(e.Path.String(), rules.IconDirs):
			r.group = 1
		}
		resolved := l.resolve([]squishy.Entry{e})
		if len(resolved) == 0 {
			continue
		}
		r.e = resolved[0]
		r.extIdx = extIndex(rules.IconExtensions, e.Path.Ext())
		ranked = append(ranked, r)
	}
	slices.SortStableFunc(ranked, func(a, b rankedIcon) int {
		if a.group != b.group {
			return a.group - b.group
		}
		if a.extIdx != b.extIdx {
			return a.extIdx - b.extIdx
		}
		if strings.EqualFold(a.e.Path.Ext(), ".png") {
			return cmp.Compare(b.e.Size, a.e.Size)
		}
		return 0
	})

	seen := make(map[string]bool, len(ranked))
	out := make([]squishy.Entry, 0, len(ranked))
	for _, r := range ranked {
		if seen[r.e.Path.String()] {
			continue
		}
		seen[r.e.Path.String()] = true
		out = append(out, r.e)
	}
	return out, nil
}

// iconKey returns the Icon key of the desktop entry e, falling back to the
// name of e without extension.
func (l *locator) iconKey(e squishy.Entry) string {
	if r, err := l.fsys.OpenEntry(e); err == nil {
		s := bufio.NewScanner(r)
		for s.Scan() {
			key, value, ok := strings.Cut(strings.TrimSpace(s.Text()), "=")
			if ok && strings.TrimSpace(key) == "Icon" {
				if v := strings.TrimSpace(value); v != "" && !strings.Contains(v, "/") {
					return v
				}
				break
			}
		}
	}
	return e.Path.Stem()
}

func hasSuffixFold(suffix string) squishy.Predicate {
	suffix = strings.ToLower(suffix)
	return squishy.PredicateFunc(func(e squishy.Entry) bool {
		return strings.HasSuffix(strings.ToLower(e.Name()), suffix)
	})
}

// extIndex returns the position of ext (with dot) in exts, or -1.
func extIndex(exts []string, ext string) int {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	for i, x := range exts {
		if strings.ToLower(x) == ext {
			return i
		}
	}
	return -1
}

func underAny(p string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(p, strings.TrimSuffix(d, "/")+"/") {
			return true
		}
	}
	return false
}
