// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package appimage opens the squashfs payload of AppImage executables and
// locates the icon, desktop entry and AppStream metadata inside it.
package appimage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-squishy"
)

// AppImage is an opened AppImage.
type AppImage struct {
	fsys   *squishy.FileSystem
	layout Layout
	typ    Type
	static bool
	opts   []Option
}

// Open opens the AppImage name. The payload is searched at explicit, or
// after the ELF executable if explicit is [AutoOffset]. opts apply to every
// resource lookup.
func Open(name string, explicit int64, cfg *squishy.Config, opts ...Option) (*AppImage, error) {
	if cfg == nil {
		cfg = squishy.NewConfig()
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open appimage: %w", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat appimage: %w", err)
	}

	layout, err := FindLayout(f, stat.Size(), explicit)
	if err != nil {
		return nil, err
	}
	a := &AppImage{layout: layout, opts: opts}
	if a.typ, err = DetectType(f); err != nil {
		cfg.Logger().Debug("no appimage type", "name", name, "error", err)
	}
	if a.static, err = IsStatic(f); err != nil {
		return nil, fmt.Errorf("failed to read appimage runtime: %w", err)
	}

	a.fsys, err = squishy.OpenAt(name, layout.Offset, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't find squashfs at offset %d (%s), try providing a valid offset: %w", layout.Offset, layout.Provenance, err)
	}
	cfg.Logger().Debug("opened appimage", "name", name, "offset", layout.Offset, "provenance", layout.Provenance.String(), "type", a.typ.String(), "static", a.static)
	return a, nil
}

// Close releases the underlying file.
func (a *AppImage) Close() error {
	return a.fsys.Close()
}

// FileSystem returns the squashfs payload.
func (a *AppImage) FileSystem() *squishy.FileSystem { return a.fsys }

// Layout returns the position of the payload.
func (a *AppImage) Layout() Layout { return a.layout }

// Type returns the AppImage format version.
func (a *AppImage) Type() Type { return a.typ }

// Static reports whether the AppImage uses the static runtime.
func (a *AppImage) Static() bool { return a.static }

// Locate calls [Locate] on the payload with the options of the AppImage
// followed by opts.
func (a *AppImage) Locate(ctx context.Context, kinds []Kind, opts ...Option) (map[Kind][]squishy.Entry, error) {
	return Locate(ctx, a.fsys, kinds, append(a.opts[:len(a.opts):len(a.opts)], opts...)...)
}

// FindIcon returns the preferred icon.
func (a *AppImage) FindIcon(ctx context.Context) (squishy.Entry, bool, error) {
	return a.first(ctx, KindIcon)
}

// FindDesktop returns the preferred desktop entry.
func (a *AppImage) FindDesktop(ctx context.Context) (squishy.Entry, bool, error) {
	return a.first(ctx, KindDesktop)
}

// FindAppStream returns the preferred AppStream metadata file.
func (a *AppImage) FindAppStream(ctx context.Context) (squishy.Entry, bool, error) {
	return a.first(ctx, KindAppStream)
}

func (a *AppImage) first(ctx context.Context, k Kind) (squishy.Entry, bool, error) {
	found, err := a.Locate(ctx, []Kind{k})
	if err != nil {
		return squishy.Entry{}, false, err
	}
	if len(found[k]) == 0 {
		return squishy.Entry{}, false, nil
	}
	return found[k][0], true, nil
}

// Write writes the resource e to dir under [OutputName](e, base) and
// returns the written path.
func (a *AppImage) Write(e squishy.Entry, dir, base string) (string, error) {
	dst := filepath.Join(dir, OutputName(e, base))
	if err := a.fsys.Write(e, dst); err != nil {
		return "", err
	}
	return dst, nil
}

// OutputName returns the file name a resource is written to. With an empty
// base the name of e is kept. Otherwise the extension of e is appended to
// base, keeping the AppStream suffixes "appdata.xml" and "metainfo.xml"
// intact. Names without extension are kept.
func OutputName(e squishy.Entry, base string) string {
	name := e.Name()
	if base == "" {
		return name
	}
	lower := strings.ToLower(name)
	for _, suffix := range []string{".appdata.xml", ".metainfo.xml"} {
		if strings.HasSuffix(lower, suffix) {
			return base + name[len(name)-len(suffix):]
		}
	}
	ext := e.Path.Ext()
	if ext == "" || ext == name {
		return name
	}
	return base + ext
}
