package main

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"golang.org/x/mod/modfile"
)

const (
	redirectDirective    = "//go:redirect-from"
	redirectTableSection = ".goredirectstbl"
)

// redirectsCmd implements subcommands.Command for the "redirects" command.
type redirectsCmd struct {
	root string
}

// Name implements subcommands.Command.Name.
func (*redirectsCmd) Name() string {
	return "redirects"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*redirectsCmd) Synopsis() string {
	return "count or populate the function redirect table of a kernel image"
}

// Usage implements subcommands.Command.Usage.
func (*redirectsCmd) Usage() string {
	return `redirects [-root dir] count
redirects [-root dir] populate <kernel image>

Kernel functions annotated with a "//go:redirect-from <symbol>" comment
replace the named runtime symbol at boot. "count" prints the number of
redirects so the linker script can size the redirect table; "populate" fills
the ` + redirectTableSection + ` section of a linked kernel image with
(source, destination) address pairs.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *redirectsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.root, "root", ".", "module root containing go.mod and the kernel sources.")
}

// Execute implements subcommands.Command.Execute.
func (c *redirectsCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	var imgFile string
	switch {
	case f.NArg() == 1 && f.Arg(0) == "count":
	case f.NArg() == 2 && f.Arg(0) == "populate":
		imgFile = f.Arg(1)
	default:
		f.Usage()
		return subcommands.ExitUsageError
	}

	redirects, err := findRedirects(c.root)
	if err != nil {
		logrus.WithError(err).Error("scanning sources")
		return subcommands.ExitFailure
	}

	if imgFile == "" {
		fmt.Printf("%d", len(redirects))
		return subcommands.ExitSuccess
	}

	if err = resolveRedirectSymbols(redirects, imgFile); err != nil {
		logrus.WithError(err).Error("resolving symbols")
		return subcommands.ExitFailure
	}
	if err = writeRedirectTable(redirects, imgFile); err != nil {
		logrus.WithError(err).Error("writing redirect table")
		return subcommands.ExitFailure
	}

	for _, r := range redirects {
		logrus.WithFields(logrus.Fields{
			"src": fmt.Sprintf("%s@%#x", r.src, r.srcVMA),
			"dst": fmt.Sprintf("%s@%#x", r.dst, r.dstVMA),
		}).Debug("redirect")
	}
	logrus.WithField("count", len(redirects)).Info("redirect table populated")
	return subcommands.ExitSuccess
}

type redirect struct {
	src string
	dst string

	srcVMA uint64
	dstVMA uint64
}

// modulePath returns the module path declared by root/go.mod.
func modulePath(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", err
	}

	f, err := modfile.ParseLax(filepath.Join(root, "go.mod"), data, nil)
	if err != nil {
		return "", err
	}
	if f.Module == nil || f.Module.Mod.Path == "" {
		return "", errors.New("go.mod: missing module directive")
	}
	return f.Module.Mod.Path, nil
}

// findRedirects collects the redirect directives of all non-test Go files
// under root/kernel. Destination names are fully qualified linker symbols.
func findRedirects(root string) ([]*redirect, error) {
	modPath, err := modulePath(root)
	if err != nil {
		return nil, err
	}

	var redirects []*redirect
	err = filepath.WalkDir(filepath.Join(root, "kernel"), func(file string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(file) != ".go" || strings.HasSuffix(file, "_test.go") {
			return err
		}

		rel, err := filepath.Rel(root, filepath.Dir(file))
		if err != nil {
			return err
		}

		found, err := fileRedirects(file, path.Join(modPath, filepath.ToSlash(rel)))
		if err != nil {
			return err
		}
		redirects = append(redirects, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return redirects, nil
}

func fileRedirects(file, pkgPath string) ([]*redirect, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, nil, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	var redirects []*redirect
	for _, decl := range f.Decls {
		fnDecl, ok := decl.(*ast.FuncDecl)
		if !ok || fnDecl.Doc == nil {
			continue
		}

		for _, comment := range fnDecl.Doc.List {
			if !strings.HasPrefix(comment.Text, redirectDirective) {
				continue
			}

			dst := pkgPath + "." + fnDecl.Name.Name
			fields := strings.Fields(comment.Text)
			if len(fields) != 2 || fields[0] != redirectDirective {
				return nil, fmt.Errorf("%s: malformed go:redirect-from syntax for %q", fset.Position(comment.Pos()), dst)
			}

			redirects = append(redirects, &redirect{src: fields[1], dst: dst})
		}
	}

	return redirects, nil
}

func resolveRedirectSymbols(redirects []*redirect, imgFile string) error {
	f, err := elf.Open(imgFile)
	if err != nil {
		return err
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return err
	}

	addrs := make(map[string]uint64, len(symbols))
	for _, symbol := range symbols {
		addrs[symbol.Name] = symbol.Value
	}

	for _, r := range redirects {
		r.srcVMA, r.dstVMA = addrs[r.src], addrs[r.dst]
		switch {
		case r.srcVMA == 0:
			return fmt.Errorf("%s: could not locate address of %q", imgFile, r.src)
		case r.dstVMA == 0:
			return fmt.Errorf("%s: could not locate address of %q", imgFile, r.dst)
		}
	}

	return nil
}

func writeRedirectTable(redirects []*redirect, imgFile string) error {
	img, err := elf.Open(imgFile)
	if err != nil {
		return err
	}
	section := img.Section(redirectTableSection)
	_ = img.Close()

	if section == nil {
		return fmt.Errorf("%s: missing %s section", imgFile, redirectTableSection)
	}
	if need := uint64(len(redirects)) * 16; section.Size < need {
		return fmt.Errorf("%s: %s section holds %d bytes; need %d", imgFile, redirectTableSection, section.Size, need)
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	if _, err = f.Seek(int64(section.Offset), io.SeekStart); err == nil {
		err = encodeRedirectTable(f, redirects)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// encodeRedirectTable writes each redirect as a little-endian
// {u64 source, u64 destination} pair.
func encodeRedirectTable(w io.Writer, redirects []*redirect) error {
	for _, r := range redirects {
		if err := binary.Write(w, binary.LittleEndian, [2]uint64{r.srcVMA, r.dstVMA}); err != nil {
			return err
		}
	}
	return nil
}
