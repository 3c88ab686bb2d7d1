package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/jordanwade90/streamlite"
)

// CheckCmd opens finalized databases with SQLite.
type CheckCmd struct {
	Paths []string `arg:"" name:"path" help:"Databases to check." type:"existingfile"`
	JSON  bool     `name:"json" help:"Print one JSON object per database."`
	Jobs  int      `short:"j" help:"Databases checked at once; 0 uses the number of CPUs."`
}

type checkResult struct {
	Path   string `json:"path"`
	Table  string `json:"table,omitempty"`
	Rows   int64  `json:"rows"`
	BLAKE3 string `json:"blake3,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (c *CheckCmd) Run(g *Globals) error {
	results := make([]checkResult, len(c.Paths))
	eg, ctx := errgroup.WithContext(context.Background())
	jobs := c.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	eg.SetLimit(jobs)
	for i, path := range c.Paths {
		i, path := i, path
		eg.Go(func() error {
			results[i] = checkDatabase(ctx, path)
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
			g.Log.Warn("check failed", zap.String("db", r.Path), zap.String("error", r.Error))
		}
		if c.JSON {
			b, err := json.Marshal(r)
			if err != nil {
				return err
			}
			g.printf("%s\n", b)
			continue
		}
		if r.Error != "" {
			g.printf("%s: FAIL: %s\n", r.Path, r.Error)
		} else {
			g.printf("%s: ok, %d rows in %s, blake3 %s\n", r.Path, r.Rows, r.Table, r.BLAKE3)
		}
	}
	if failed > 0 {
		return errors.Errorf("%d of %d databases failed", failed, len(results))
	}
	return nil
}

func checkDatabase(ctx context.Context, path string) checkResult {
	r := checkResult{Path: path}
	table, rows, digest, err := inspect(ctx, path)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	r.Table, r.Rows, r.BLAKE3 = table, rows, digest
	return r
}

func inspect(ctx context.Context, path string) (table string, rows int64, digest string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, "", err
	}
	defer f.Close()

	final, err := streamlite.IsFinalized(f)
	if err != nil {
		return "", 0, "", err
	}
	if !final {
		return "", 0, "", streamlite.ErrNotFinalized
	}

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", 0, "", errors.Wrap(err, "hash")
	}
	digest = hex.EncodeToString(h.Sum(nil))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", 0, "", err
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return "", 0, "", errors.Wrap(err, "integrity check")
	}
	if result != "ok" {
		return "", 0, "", errors.Errorf("integrity check: %s", result)
	}
	if err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_schema WHERE type = 'table' LIMIT 1").Scan(&table); err != nil {
		return "", 0, "", errors.Wrap(err, "read schema")
	}
	query := `SELECT count(*) FROM "` + strings.ReplaceAll(table, `"`, `""`) + `"`
	if err := db.QueryRowContext(ctx, query).Scan(&rows); err != nil {
		return "", 0, "", errors.Wrapf(err, "count rows of %s", table)
	}
	return table, rows, digest, nil
}

// StatusCmd reports the format of a database and which leaf pages fail their checksums.
type StatusCmd struct {
	Path string `arg:"" help:"Database to examine." type:"existingfile"`
	JSON bool   `name:"json" help:"Print the report as JSON."`
}

type statusFailure struct {
	Page  uint32 `json:"page"`
	Check string `json:"check"`
	Error string `json:"error"`
}

type statusOutput struct {
	Path     string          `json:"path"`
	Final    bool            `json:"final"`
	PageSize int             `json:"page_size"`
	Leaves   int             `json:"leaves"`
	Empty    int             `json:"empty"`
	Failures []statusFailure `json:"failures"`
}

func (c *StatusCmd) Run(g *Globals) error {
	f, err := os.Open(c.Path)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	defer f.Close()

	rep, err := streamlite.Verify(f, streamlite.WithLogger(g.Log))
	if err != nil {
		return errors.Wrapf(err, "verify %s", c.Path)
	}
	out := statusOutput{
		Path:     c.Path,
		Final:    rep.Final,
		PageSize: rep.PageSize,
		Leaves:   rep.Leaves,
		Empty:    rep.Empty,
		Failures: []statusFailure{},
	}
	for _, fail := range rep.Failures {
		out.Failures = append(out.Failures, statusFailure{Page: fail.Page, Check: fail.Check, Error: fail.Err.Error()})
	}

	if c.JSON {
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		g.printf("%s\n", b)
		return nil
	}
	state := "in progress"
	if out.Final {
		state = "finalized"
	}
	g.printf("%s: %s, page size %d, %d leaf pages (%d empty)\n", out.Path, state, out.PageSize, out.Leaves, out.Empty)
	for _, fail := range out.Failures {
		g.printf("  page %d: %s check: %s\n", fail.Page, fail.Check, fail.Error)
	}
	return nil
}
