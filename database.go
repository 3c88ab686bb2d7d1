package streamlite

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jordanwade90/streamlite/internal/checksum"
	"github.com/jordanwade90/streamlite/internal/pagebuf"
	"github.com/jordanwade90/streamlite/record"
)

const (
	DefaultPageSize  = 4096
	DefaultTableName = "t1"

	// MaxColumns is the most columns whose serial types fit in the
	// two-byte header length of a record.
	MaxColumns = 1<<14 - 1 - record.HeaderLenWidth
)

// Config describes the table a Writer creates.
type Config struct {
	// Columns is the number of columns of every row.
	// Open derives it from the last stored row if it is zero.
	Columns int `json:"columns"`
	// PageSize is a power of two between 512 and 65536.
	PageSize      int `json:"page_size"`
	ReservedBytes int `json:"reserved_bytes"`
	TableName     string `json:"table_name"`
	// CreateScript is stored in sqlite_schema. It defaults to
	// CREATE TABLE <TableName> (c001,c002,...).
	CreateScript string `json:"create_script"`
}

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.TableName == "" {
		c.TableName = DefaultTableName
	}
	if c.CreateScript == "" && c.Columns > 0 {
		c.CreateScript = DefaultCreateScript(c.TableName, c.Columns)
	}
	return c
}

// Validate reports whether Create can use the configuration once defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if !pagebuf.ValidPageSize(c.PageSize) {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, c.PageSize)
	}
	// SQLite requires at least 480 usable bytes per page.
	if c.ReservedBytes < 0 || c.ReservedBytes > 255 || c.PageSize-c.ReservedBytes < 480 {
		return fmt.Errorf("%w: %d reserved bytes", ErrInvalidPageSize, c.ReservedBytes)
	}
	if c.Columns < 1 || c.Columns > MaxColumns {
		return fmt.Errorf("streamlite: invalid column count %d", c.Columns)
	}
	return nil
}

// DefaultCreateScript returns the script stored for a table without one.
func DefaultCreateScript(table string, columns int) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	sb.WriteString(table)
	sb.WriteString(" (")
	for i := 1; i <= columns; i++ {
		if i > 1 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "c%03d", i)
	}
	sb.WriteByte(')')
	return sb.String()
}

// Option configures a Writer.
type Option func(*options)

type options struct {
	log *zap.Logger
}

// WithLogger makes the Writer log page writes and finalize progress to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Writer appends rows to a database file one page at a time.
//
// Only one page is held in memory. Rows go to leaf pages in rowid order;
// Finalize builds the interior pages and makes the file readable by SQLite.
// A Writer is not safe for concurrent use.
type Writer struct {
	*pager

	page    pagebuf.PageNumber // page held in the buffer
	rowid   uint32             // rowid of the last row appended
	columns int
	pending bool
	final   bool
	// stale is set when the buffer was lent to another page after the
	// leaf reached the file; the leaf is read back before its next use.
	stale bool
}

// Create starts a new database in file. Page 1 is written immediately;
// rows are buffered until their page fills or Flush is called.
func Create(file Storage, cfg Config, opts ...Option) (*Writer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	o := buildOptions(opts)

	w := &Writer{
		pager:   newPager(file, o.log, cfg.PageSize, cfg.ReservedBytes),
		page:    1,
		columns: 5,
	}
	pagebuf.InitHeader(w.buf, cfg.PageSize, cfg.ReservedBytes)
	w.leaf().InitLeaf()

	// The sqlite_schema row is built like any other so its root page
	// column keeps the four-byte width Finalize patches in place.
	schema := []record.Value{
		record.Text("table"),
		record.Text(cfg.TableName),
		record.Text(cfg.TableName),
		record.Int32(2),
		record.Text(cfg.CreateScript),
	}
	if err := w.AppendEmptyRow(); err != nil {
		return nil, err
	}
	for i, v := range schema {
		if err := w.SetColumn(i, v); err != nil {
			return nil, fmt.Errorf("streamlite: schema: %w", err)
		}
	}
	if err := w.writePage(1); err != nil {
		return nil, err
	}
	// Leaves of an earlier database in the same file would be found by Open and Recover.
	if t, ok := file.(truncater); ok {
		if err := t.Truncate(int64(cfg.PageSize)); err != nil {
			return nil, &IOError{Kind: ErrWrite, Page: 1, Err: err}
		}
	}

	clear(w.buf)
	w.page = 2
	w.rowid = 0
	w.columns = cfg.Columns
	w.leaf().InitLeaf()
	w.pending = true
	return w, nil
}

// Open resumes appending to a file written by a Writer, finalized or not.
// A finalized file reverts to the in-progress format until Finalize runs again.
//
// Page size and reserved bytes come from the file; only cfg.Columns is used.
func Open(file Storage, cfg Config, opts ...Option) (*Writer, error) {
	h, err := readHeader(file)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	w := &Writer{
		pager:   newPager(file, o.log, h.PageSize(), h.Reserved()),
		columns: cfg.Columns,
	}
	if err := w.readPage(1); err != nil {
		return nil, err
	}
	h = pagebuf.Header(w.buf)
	if h.InProgress() {
		if err := checksum.Apply(w.buf, checksum.CheckPage); err != nil {
			return nil, err
		}
	}
	from := max(h.LastLeaf(), 2)
	revert := h.Final() || h.LastLeaf() != 0

	// Nothing is written until the leaves and the column count check out.
	last, err := w.probe(from)
	if err != nil {
		return nil, err
	}
	if last < from && from > 2 {
		return nil, fmt.Errorf("%w: page %d is not a leaf", ErrMalformed, from)
	}
	if last < 2 {
		// Page 1 was written but no leaf was ever flushed.
		if err := w.deriveColumns(0); err != nil {
			return nil, err
		}
		if revert {
			if err := w.revertHeader(); err != nil {
				return nil, err
			}
		}
		w.page = 2
		clear(w.buf)
		w.leaf().InitLeaf()
		w.pending = true
		return w, nil
	}

	// The newest rows are on the last non-empty leaf.
	newest := pagebuf.PageNumber(0)
	for n := last; n >= 2 && newest == 0; n-- {
		if isLockBytePage(n, w.pageSize) {
			continue
		}
		rowid, err := w.lastRowID(n)
		switch {
		case err == errEmptyLeaf:
		case err != nil:
			return nil, err
		default:
			w.rowid, newest = rowid, n
		}
	}

	w.page = last
	if err := w.deriveColumns(newest); err != nil {
		return nil, err
	}
	if revert {
		if err := w.revertHeader(); err != nil {
			return nil, err
		}
	}
	if err := w.readPage(last); err != nil {
		return nil, err
	}
	o.log.Info("opened for append", zap.Uint32("page", uint32(last)), zap.Uint32("rowid", w.rowid))
	return w, nil
}

// revertHeader gives the file the in-progress signature and clears the
// last leaf field, so that SQLite cannot open it while rows are appended.
func (w *Writer) revertHeader() error {
	if err := w.readPage(1); err != nil {
		return err
	}
	h := pagebuf.Header(w.buf)
	h.SetInProgress()
	h.SetLastLeaf(0)
	return w.writePage(1)
}

// deriveColumns sets the column count from the last row on page n if it was
// not configured. n is 0 if the file has no rows.
func (w *Writer) deriveColumns(n pagebuf.PageNumber) error {
	if w.columns != 0 {
		if w.columns < 0 || w.columns > MaxColumns {
			return fmt.Errorf("streamlite: invalid column count %d", w.columns)
		}
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%w: no rows to take the column count from", ErrNotFound)
	}
	if err := w.readPage(n); err != nil {
		return err
	}
	start := w.leaf().LastCell()
	cols, err := record.Columns(w.buf[start:], w.usable-start)
	if err != nil {
		return err
	}
	w.columns = cols
	return nil
}

// leaf returns the page in the buffer.
func (w *Writer) leaf() pagebuf.Page { return w.view(w.page) }

// RowID returns the rowid of the last row appended.
func (w *Writer) RowID() uint32 { return w.rowid }

// PageNumber returns the page rows are currently appended to.
func (w *Writer) PageNumber() uint32 { return uint32(w.page) }

// Columns returns the number of columns of every row.
func (w *Writer) Columns() int { return w.columns }

// Flush writes the current page and syncs the file.
func (w *Writer) Flush() error {
	w.mustBeLive()
	if err := w.reload(); err != nil {
		return err
	}
	if err := w.writePage(w.page); err != nil {
		return err
	}
	if err := w.sync(w.page); err != nil {
		return err
	}
	w.pending = false
	return nil
}

// IsFinalized reports whether the file carries the standard SQLite signature.
func (w *Writer) IsFinalized() (bool, error) { return IsFinalized(w.file) }

// IsFinalized reports whether file is a finalized database.
// It only reads the database header.
func IsFinalized(file Storage) (bool, error) {
	h, err := readHeader(file)
	if err != nil {
		return false, err
	}
	return h.Final(), nil
}

// reload reads the current leaf back if the buffer was lent to another page.
func (w *Writer) reload() error {
	if !w.stale {
		return nil
	}
	if err := w.readPage(w.page); err != nil {
		return err
	}
	w.stale = false
	return nil
}

func (w *Writer) mustBeLive() {
	if w.final {
		panic("streamlite: writer finalized")
	}
}
