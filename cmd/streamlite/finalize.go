package main

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"go.uber.org/zap"

	"github.com/jordanwade90/streamlite"
)

// FinalizeCmd finalizes a database left in the in-progress format.
type FinalizeCmd struct {
	Path  string `arg:"" help:"Database to finalize." type:"existingfile"`
	XZ    string `name:"xz" help:"Also write an xz-compressed copy of the finalized database to this path." type:"path"`
	Force bool   `help:"Finalize even if leaf pages fail their checksums; their rows are dropped."`
}

func (c *FinalizeCmd) Run(g *Globals) error {
	f, err := os.OpenFile(c.Path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer f.Close()

	final, err := streamlite.IsFinalized(f)
	if err != nil {
		return errors.Wrapf(err, "read %s", c.Path)
	}
	if final {
		g.printf("%s: already finalized\n", c.Path)
	} else {
		if !c.Force {
			rep, err := streamlite.Verify(f, streamlite.WithLogger(g.Log))
			if err != nil {
				return errors.Wrapf(err, "verify %s", c.Path)
			}
			if !rep.OK() {
				return errors.Errorf("%s: %d damaged pages, first %d (%s check); use --force or recover",
					c.Path, len(rep.Failures), rep.Failures[0].Page, rep.Failures[0].Check)
			}
		}
		if err := streamlite.Recover(f, streamlite.WithLogger(g.Log)); err != nil {
			return errors.Wrapf(err, "finalize %s", c.Path)
		}
		g.printf("%s: finalized\n", c.Path)
	}

	if c.XZ != "" {
		if err := compressCopy(f, c.XZ); err != nil {
			return errors.Wrapf(err, "compress %s", c.Path)
		}
		g.Log.Info("wrote compressed copy", zap.String("db", c.Path), zap.String("xz", c.XZ))
	}
	return f.Close()
}

// RecoverCmd finalizes a database whose writer never finished, skipping
// leaf pages that fail their header checksum.
type RecoverCmd struct {
	Path string `arg:"" help:"Database to recover." type:"existingfile"`
}

func (c *RecoverCmd) Run(g *Globals) error {
	f, err := os.OpenFile(c.Path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer f.Close()

	rep, err := streamlite.Verify(f, streamlite.WithLogger(g.Log))
	if err != nil {
		return errors.Wrapf(err, "verify %s", c.Path)
	}
	if rep.Final {
		g.printf("%s: already finalized\n", c.Path)
		return nil
	}
	kept := rep.Leaves
	for _, fail := range rep.Failures {
		g.printf("%s: page %d failed the %s check: %v\n", c.Path, fail.Page, fail.Check, fail.Err)
		if fail.Page != 1 {
			kept--
		}
	}
	if err := streamlite.Recover(f, streamlite.WithLogger(g.Log)); err != nil {
		return errors.Wrapf(err, "recover %s", c.Path)
	}
	g.printf("%s: recovered %d leaf pages\n", c.Path, kept)
	return f.Close()
}

// compressCopy writes an xz stream of the whole of f to path.
func compressCopy(f *os.File, path string) (err error) {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return errors.Wrap(err, "create xz writer")
	}
	if _, err := io.Copy(xw, io.NewSectionReader(f, 0, info.Size())); err != nil {
		return err
	}
	return xw.Close()
}
