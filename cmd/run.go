// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-squishy"
	"github.com/hashicorp/go-squishy/appimage"
	"github.com/pkg/errors"
)

// CLI are the cli parameters for the squishy binary
type CLI struct {
	Verbose bool             `short:"v" optional:"" help:"Verbose logging."`
	Version kong.VersionFlag `short:"V" optional:"" help:"Print release version information."`
	Workers int              `optional:"" default:"0" help:"Size of the worker pool. (default: number of CPUs)"`

	Ls       LsCmd       `cmd:"" help:"List the entries of an image."`
	Find     FindCmd     `cmd:"" help:"List the entries whose path contains a query."`
	Cat      CatCmd      `cmd:"" help:"Print the content of a file."`
	Extract  ExtractCmd  `cmd:"" help:"Extract a file or the whole tree."`
	Offset   OffsetCmd   `cmd:"" help:"Print the offset of the squashfs payload in an AppImage."`
	Appimage AppimageCmd `cmd:"" help:"Locate and write the icon, desktop entry and AppStream metadata of an AppImage."`
}

// ImageArgs holds the arguments shared by all commands operating on an image.
type ImageArgs struct {
	Image  string `arg:"" name:"image" help:"Path to a squashfs image or AppImage." type:"existing file"`
	Offset int64  `optional:"" default:"-1" help:"Offset of the squashfs image in the file. (auto detect: -1)"`
}

// globals are bound to every command.
type globals struct {
	ctx    context.Context
	logger *slog.Logger
	out    io.Writer
	opts   []squishy.ConfigOption
}

func (g *globals) config(opts ...squishy.ConfigOption) *squishy.Config {
	return squishy.NewConfig(append(g.opts[:len(g.opts):len(g.opts)], opts...)...)
}

// open opens the image. With an automatic offset the payload of AppImages is
// found through the ELF header; other files are read from the start.
func (i ImageArgs) open(cfg *squishy.Config) (*squishy.FileSystem, error) {
	offset := i.Offset
	if offset == appimage.AutoOffset {
		f, err := os.Open(i.Image)
		if err != nil {
			return nil, errors.Wrap(err, "opening image failed")
		}
		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "stat image failed")
		}
		layout, err := appimage.FindLayout(f, stat.Size(), appimage.AutoOffset)
		f.Close()
		switch {
		case err == nil:
			offset = layout.Offset
		case errors.Is(err, appimage.ErrHeaderParse):
			offset = 0
		default:
			return nil, errors.Wrap(err, "detecting offset failed")
		}
	}
	fsys, err := squishy.OpenAt(i.Image, offset, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s at offset %d failed", i.Image, offset)
	}
	return fsys, nil
}

// LsCmd lists entries.
type LsCmd struct {
	ImageArgs
	Long     bool `short:"l" help:"Print mode, owner, size and modification time."`
	Digest   bool `short:"d" help:"Print the sha256 digest of files."`
	Parallel bool `short:"p" help:"Traverse in parallel. The output order is not defined."`
}

func (c *LsCmd) Run(g *globals) error {
	fsys, err := c.open(g.config())
	if err != nil {
		return err
	}
	defer fsys.Close()

	var mu sync.Mutex
	emit := func(e squishy.Entry) error {
		line, err := c.format(fsys, e)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintln(g.out, line)
		return err
	}

	if c.Parallel {
		return fsys.ParEntries(g.ctx, emit)
	}
	for e := range fsys.Entries() {
		if err := emit(e); err != nil {
			return err
		}
	}
	return nil
}

func (c *LsCmd) format(fsys *squishy.FileSystem, e squishy.Entry) (string, error) {
	var b strings.Builder
	if c.Long {
		fmt.Fprintf(&b, "%s %5d %5d %10d %s ", e.Mode, e.UID, e.GID, e.Size, e.ModTime.UTC().Format("2006-01-02 15:04"))
	}
	if c.Digest {
		d := strings.Repeat("-", 71)
		if e.Kind == squishy.KindFile {
			dg, err := fsys.Digest(e)
			if err != nil {
				return "", errors.Wrapf(err, "digest of %s failed", e.Path)
			}
			d = dg.String()
		}
		b.WriteString(d + " ")
	}
	b.WriteString(e.String())
	return b.String(), nil
}

// FindCmd lists entries matching a query.
type FindCmd struct {
	ImageArgs
	Query string `arg:"" name:"query" help:"Substring of the path (case-sensitive)."`
}

func (c *FindCmd) Run(g *globals) error {
	fsys, err := c.open(g.config())
	if err != nil {
		return err
	}
	defer fsys.Close()

	found, err := fsys.ParFindAll(g.ctx, squishy.PathContains(c.Query))
	if err != nil {
		return errors.Wrap(err, "search failed")
	}
	for _, e := range found {
		fmt.Fprintln(g.out, e)
	}
	return nil
}

// CatCmd prints a file.
type CatCmd struct {
	ImageArgs
	Path string `arg:"" name:"path" help:"Path of the file in the image."`
}

func (c *CatCmd) Run(g *globals) error {
	fsys, err := c.open(g.config())
	if err != nil {
		return err
	}
	defer fsys.Close()

	e, err := lookupResolved(fsys, c.Path)
	if err != nil {
		return err
	}
	r, err := fsys.OpenEntry(e)
	if err != nil {
		return errors.Wrapf(err, "reading %s failed", c.Path)
	}
	_, err = io.Copy(g.out, r)
	return errors.Wrapf(err, "reading %s failed", c.Path)
}

func lookupResolved(fsys *squishy.FileSystem, p string) (squishy.Entry, error) {
	e, err := fsys.Lookup(p)
	if err != nil {
		return squishy.Entry{}, errors.Wrap(err, "lookup failed")
	}
	e, err = fsys.Resolve(e)
	if err != nil {
		return squishy.Entry{}, errors.Wrap(err, "resolving symlink failed")
	}
	return e, nil
}

// ExtractCmd extracts a single file or the whole tree.
type ExtractCmd struct {
	ImageArgs
	Destination       string   `arg:"" name:"destination" default:"." help:"Output directory (or file with --path)."`
	Path              string   `optional:"" help:"Extract only the file at this path."`
	ContinueOnError   bool     `short:"C" help:"Continue extraction on error."`
	CreateDestination bool     `short:"c" help:"Create destination directory if it does not exist."`
	DenySymlinks      bool     `short:"D" help:"Deny symlink extraction."`
	DryRun            bool     `short:"n" help:"Extract into memory and list the result."`
	MaxFiles          int64    `optional:"" default:"100000" help:"Maximum files that are extracted before stop. (disable check: -1)"`
	MaxExtractionSize int64    `optional:"" default:"1073741824" help:"Maximum extraction size that allowed is (in bytes). (disable check: -1)"`
	Overwrite         bool     `short:"O" help:"Overwrite if exist."`
	Pattern           []string `optional:"" short:"P" help:"Extract only entries matching the pattern(s)."`
	PreserveOwner     bool     `short:"p" help:"Preserve owner and group of files (root only)."`
	Telemetry         bool     `short:"T" optional:"" default:"false" help:"Print telemetry data to log after extraction."`
	TraverseSymlinks  bool     `short:"S" help:"[Dangerous!] Traverse symlinks to directories during extraction."`
}

func (c *ExtractCmd) Run(g *globals) error {
	telemetryToLog := func(ctx context.Context, td *squishy.TelemetryData) {
		if c.Telemetry {
			g.logger.Info("extraction finished", "telemetry", td)
		}
	}
	cfg := g.config(
		squishy.WithContinueOnError(c.ContinueOnError),
		squishy.WithCreateDestination(c.CreateDestination || c.DryRun),
		squishy.WithDenySymlinkExtraction(c.DenySymlinks),
		squishy.WithInsecureTraverseSymlinks(c.TraverseSymlinks),
		squishy.WithMaxExtractionSize(c.MaxExtractionSize),
		squishy.WithMaxFiles(c.MaxFiles),
		squishy.WithOverwrite(c.Overwrite),
		squishy.WithPatterns(c.Pattern...),
		squishy.WithPreserveOwner(c.PreserveOwner),
		squishy.WithTelemetryHook(telemetryToLog),
	)
	fsys, err := c.open(cfg)
	if err != nil {
		return err
	}
	defer fsys.Close()

	var t squishy.Target = squishy.NewTargetDisk()
	mem := squishy.NewTargetMemory()
	if c.DryRun {
		t = mem
	}

	if c.Path != "" {
		e, err := lookupResolved(fsys, c.Path)
		if err != nil {
			return err
		}
		dst := c.Destination
		if c.DryRun {
			dst = e.Name()
		}
		if err := fsys.WriteTarget(t, e, dst); err != nil {
			return errors.Wrap(err, "error during extraction")
		}
	} else {
		dst := c.Destination
		if c.DryRun {
			dst = ""
		}
		if err := fsys.ExtractAll(g.ctx, t, dst); err != nil {
			return errors.Wrap(err, "error during extraction")
		}
	}

	if c.DryRun {
		for _, p := range mem.Paths() {
			fmt.Fprintln(g.out, p)
		}
	}
	return nil
}

// OffsetCmd prints the payload offset.
type OffsetCmd struct {
	File   string `arg:"" name:"file" help:"Path to the AppImage." type:"existing file"`
	Offset int64  `optional:"" default:"-1" help:"Explicit offset to validate. (auto detect: -1)"`
}

func (c *OffsetCmd) Run(g *globals) error {
	f, err := os.Open(c.File)
	if err != nil {
		return errors.Wrap(err, "opening file failed")
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat file failed")
	}
	layout, err := appimage.FindLayout(f, stat.Size(), c.Offset)
	if err != nil {
		return errors.Wrap(err, "cannot determine offset")
	}
	typ, err := appimage.DetectType(f)
	if err != nil {
		g.logger.Debug("no appimage type", "error", err)
	}
	fmt.Fprintf(g.out, "%d\t%s\t%s\n", layout.Offset, layout.Provenance, typ)
	return nil
}

// AppimageCmd locates AppImage resources.
type AppimageCmd struct {
	File            string `arg:"" name:"file" help:"Path to the AppImage." type:"existing file"`
	Offset          int64  `optional:"" default:"-1" help:"Offset of the squashfs image in the file. (auto detect: -1)"`
	Filter          string `short:"f" optional:"" help:"Only consider paths containing this string."`
	App             string `optional:"" help:"Application identifier icons are matched against."`
	Icon            bool   `short:"i" help:"Locate the icon."`
	Desktop         bool   `short:"d" help:"Locate the desktop entry."`
	Appstream       bool   `short:"a" help:"Locate the AppStream metadata."`
	Write           bool   `short:"w" help:"Write the located resources."`
	OutputDir       string `short:"o" optional:"" default:"." help:"Directory resources are written to."`
	OriginalName    bool   `help:"Keep the original file names when writing."`
	CopyPermissions bool   `help:"Keep the permissions of written files."`
}

func (c *AppimageCmd) Run(g *globals) error {
	var kinds []appimage.Kind
	if c.Icon {
		kinds = append(kinds, appimage.KindIcon)
	}
	if c.Desktop {
		kinds = append(kinds, appimage.KindDesktop)
	}
	if c.Appstream {
		kinds = append(kinds, appimage.KindAppStream)
	}
	if len(kinds) == 0 {
		kinds = []appimage.Kind{appimage.KindIcon, appimage.KindDesktop, appimage.KindAppStream}
	}

	var opts []appimage.Option
	if c.Filter != "" {
		opts = append(opts, appimage.WithFilter(c.Filter))
	}
	if c.App != "" {
		opts = append(opts, appimage.WithAppID(c.App))
	}
	cfg := g.config(
		squishy.WithCreateDestination(true),
		squishy.WithDropFileAttributes(!c.CopyPermissions),
		squishy.WithOverwrite(true),
	)
	a, err := appimage.Open(c.File, c.Offset, cfg, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	found, err := a.Locate(g.ctx, kinds)
	if err != nil {
		return errors.Wrap(err, "locating resources failed")
	}

	base := strings.TrimSuffix(filepath.Base(c.File), filepath.Ext(c.File))
	if c.OriginalName {
		base = ""
	}
	for _, k := range kinds {
		if len(found[k]) == 0 {
			g.logger.Warn("resource not found", "kind", k.String())
			continue
		}
		e := found[k][0]
		if !c.Write {
			fmt.Fprintf(g.out, "%s\t%s\n", k, e.Path)
			continue
		}
		dst, err := a.Write(e, c.OutputDir, base)
		if err != nil {
			return errors.Wrapf(err, "writing %s failed", k)
		}
		fmt.Fprintf(g.out, "Wrote %s to %s\n", e.Path, dst)
	}
	return nil
}

// Run the entrypoint into squishy as a cli tool
func Run(version, commit, date string) {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Description("A SquashFS and AppImage inspection utility"),
		kong.UsageOnError(),
		kong.Vars{
			"version": fmt.Sprintf("%s (%s), commit %s, built at %s", filepath.Base(os.Args[0]), version, commit, date),
		},
	)

	// Check for verbose output
	logLevel := slog.LevelError
	if cli.Verbose {
		logLevel = slog.LevelDebug
	}

	// setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	g := &globals{
		ctx:    context.Background(),
		logger: logger,
		out:    os.Stdout,
		opts:   []squishy.ConfigOption{squishy.WithLogger(logger)},
	}
	if cli.Workers > 0 {
		g.opts = append(g.opts, squishy.WithWorkers(cli.Workers))
	}

	if err := kctx.Run(g); err != nil {
		logger.Error("squishy failed", "err", err)
		os.Exit(-1)
	}
}
