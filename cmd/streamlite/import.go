package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jordanwade90/streamlite"
	"github.com/jordanwade90/streamlite/internal/colspec"
	"github.com/jordanwade90/streamlite/internal/memfile"
	"github.com/jordanwade90/streamlite/record"
)

// ImportCmd writes each input into its own database.
type ImportCmd struct {
	Inputs       []string `arg:"" name:"input" help:"JSON lines files holding one array of column values per line; - reads stdin."`
	Out          string   `short:"o" help:"Output database for a single input. Defaults to the input path with a .db extension." type:"path"`
	Columns      string   `short:"c" help:"Column spec such as 'ts:int, temp:real, msg:text'. Defaults to untyped columns counted from the first row."`
	PageSize     int      `name:"page-size" default:"4096" help:"Page size in bytes."`
	Reserved     int      `name:"reserved-bytes" default:"0" help:"Bytes reserved at the end of each page."`
	Table        string   `default:"t1" help:"Table name."`
	CreateScript string   `name:"create-script" help:"CREATE TABLE statement to store instead of the generated one. It must declare column types."`
	Append       bool     `help:"Append to databases that already exist."`
	Finalize     bool     `default:"true" negatable:"" help:"Finalize each database after its last row."`
	FlushEvery   int      `name:"flush-every" help:"Flush and record the last leaf page every N rows; 0 only does so at the end."`
	Jobs         int      `short:"j" help:"Inputs converted at once; 0 uses the number of CPUs."`
	DryRun       bool     `name:"dry-run" help:"Build the databases in memory and only report their sizes."`
}

func (c *ImportCmd) Run(g *Globals) error {
	if c.Out != "" && len(c.Inputs) > 1 {
		return errors.New("--out needs a single input")
	}
	var spec colspec.Spec
	if c.Columns != "" {
		var err error
		if spec, err = colspec.Parse(c.Columns); err != nil {
			return errors.Wrap(err, "parse --columns")
		}
	}

	outs := make(map[string]string, len(c.Inputs))
	for _, in := range c.Inputs {
		out, err := c.outPath(in)
		if err != nil {
			return err
		}
		outs[in] = out
	}

	eg, ctx := errgroup.WithContext(context.Background())
	jobs := c.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	eg.SetLimit(jobs)
	for _, in := range c.Inputs {
		in := in
		eg.Go(func() error {
			return c.importFile(ctx, g, spec, in, outs[in])
		})
	}
	return eg.Wait()
}

func (c *ImportCmd) outPath(in string) (string, error) {
	if c.Out != "" {
		return c.Out, nil
	}
	if in == "-" {
		return "", errors.New("reading stdin needs --out")
	}
	out := strings.TrimSuffix(in, filepath.Ext(in)) + ".db"
	if out == in {
		return "", errors.Errorf("%s: input would be overwritten; use --out", in)
	}
	return out, nil
}

func (c *ImportCmd) importFile(ctx context.Context, g *Globals, spec colspec.Spec, in, out string) (err error) {
	r := g.Stdin
	if in != "-" {
		f, err := os.Open(in)
		if err != nil {
			return errors.Wrap(err, "open input")
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(bufio.NewReader(r))
	dec.UseNumber()
	next := func() ([]any, error) {
		var values []any
		err := dec.Decode(&values)
		return values, err
	}

	log := g.Log.With(zap.String("input", in), zap.String("db", out))

	// The first row gives the column count when there is no spec.
	values, rerr := next()
	if rerr != nil && rerr != io.EOF {
		return errors.Wrapf(rerr, "%s: row 1", in)
	}
	if spec == nil && rerr == nil {
		spec = colspec.Anonymous(len(values))
	}

	file, w, err := c.openWriter(spec, out, log)
	if err != nil {
		return err
	}
	if f, ok := file.(*os.File); ok {
		defer func() {
			if cerr := f.Close(); err == nil && cerr != nil {
				err = errors.Wrapf(cerr, "close %s", out)
			}
		}()
	}
	if spec == nil {
		spec = colspec.Anonymous(w.Columns())
	}

	var row record.Row
	rows := 0
	for ; rerr == nil; values, rerr = next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows++
		row.Reset()
		if err := spec.AppendRow(&row, values); err != nil {
			return errors.Wrapf(err, "%s: row %d", in, rows)
		}
		if err := w.AppendRow(row...); err != nil {
			return errors.Wrapf(err, "%s: row %d", in, rows)
		}
		if c.FlushEvery > 0 && rows%c.FlushEvery == 0 {
			if err := w.PartialFinalize(); err != nil {
				return errors.Wrapf(err, "flush %s", out)
			}
		}
	}
	if rerr != io.EOF {
		return errors.Wrapf(rerr, "%s: row %d", in, rows+1)
	}

	if c.Finalize {
		err = w.Finalize()
	} else {
		err = w.PartialFinalize()
	}
	if err != nil {
		return errors.Wrapf(err, "finalize %s", out)
	}
	log.Info("imported", zap.Int("rows", rows), zap.Uint32("last_rowid", w.RowID()))
	if m, ok := file.(*memfile.File); ok {
		g.printf("%s: %d rows, %d bytes (dry run)\n", in, rows, m.Len())
		return nil
	}
	g.printf("%s: %d rows -> %s\n", in, rows, out)
	return nil
}

// openWriter opens out for appending, or creates it.
// A dry run creates an in-memory file instead.
func (c *ImportCmd) openWriter(spec colspec.Spec, out string, log *zap.Logger) (streamlite.Storage, *streamlite.Writer, error) {
	if c.Append && !c.DryRun {
		f, err := os.OpenFile(out, os.O_RDWR, 0)
		switch {
		case err == nil:
			// The column count comes from the file when it has rows.
			w, err := streamlite.Open(f, streamlite.Config{}, streamlite.WithLogger(log))
			if errors.Is(err, streamlite.ErrNotFound) && spec != nil {
				w, err = streamlite.Open(f, streamlite.Config{Columns: len(spec)}, streamlite.WithLogger(log))
			}
			if err != nil {
				f.Close()
				return nil, nil, errors.Wrapf(err, "open %s", out)
			}
			if spec != nil && w.Columns() != len(spec) {
				f.Close()
				return nil, nil, errors.Errorf("%s has %d columns, rows have %d", out, w.Columns(), len(spec))
			}
			return f, w, nil
		case !os.IsNotExist(err):
			return nil, nil, errors.Wrap(err, "open database")
		}
	}

	if spec == nil {
		return nil, nil, errors.Errorf("%s: no rows and no --columns to take the column count from", out)
	}
	cfg := streamlite.Config{
		Columns:       len(spec),
		PageSize:      c.PageSize,
		ReservedBytes: c.Reserved,
		TableName:     c.Table,
		CreateScript:  spec.CreateScript(c.Table),
	}
	if c.CreateScript != "" {
		table, err := checkCreateScript(c.CreateScript, len(spec))
		if err != nil {
			return nil, nil, err
		}
		cfg.TableName, cfg.CreateScript = table, c.CreateScript
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	if c.DryRun {
		m := memfile.New()
		w, err := streamlite.Create(m, cfg, streamlite.WithLogger(log))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "create %s", out)
		}
		return m, w, nil
	}

	f, err := os.OpenFile(out, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create database")
	}
	w, err := streamlite.Create(f, cfg, streamlite.WithLogger(log))
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrapf(err, "create %s", out)
	}
	return f, w, nil
}

// checkCreateScript returns the table a CREATE TABLE statement creates,
// after checking that it declares the given number of columns.
func checkCreateScript(script string, columns int) (string, error) {
	stmt, err := sqlparser.Parse(script)
	if err != nil {
		return "", errors.Wrap(err, "parse create script")
	}
	ddl, ok := stmt.(*sqlparser.DDL)
	if !ok || ddl.Action != sqlparser.CreateStr || ddl.TableSpec == nil {
		return "", errors.Errorf("create script is not a CREATE TABLE statement: %q", script)
	}
	if n := len(ddl.TableSpec.Columns); n != columns {
		return "", errors.Errorf("create script declares %d columns, rows have %d", n, columns)
	}
	return ddl.NewName.Name.String(), nil
}
