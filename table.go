package streamlite

import (
	"math"

	"github.com/jordanwade90/streamlite/internal/checksum"
	"github.com/jordanwade90/streamlite/internal/pagebuf"
	"github.com/jordanwade90/streamlite/internal/svarint"
	"github.com/jordanwade90/streamlite/record"
)

// AppendRow appends a row holding values, one per column.
// Rowids stop at 4294967295; later rows are rejected with ErrTooLong.
//
// Do not pass values returned by Column: they point into the page buffer.
func (w *Writer) AppendRow(values ...record.Value) error {
	w.mustBeLive()
	if err := w.reload(); err != nil {
		return err
	}
	if len(values) != w.columns {
		return ErrTypeMismatch
	}
	hdrLen, recLen := record.Sizes(values)
	if err := record.CheckSizes(hdrLen, recLen, pagebuf.MaxLocal(w.usable)); err != nil {
		return err
	}
	if w.rowid == math.MaxUint32 {
		return ErrTooLong
	}

	rowid := w.rowid + 1
	off, err := w.makeSpace(record.PrefixLen(rowid) + recLen)
	if err != nil {
		return err
	}
	record.PutCell(w.buf[off:], rowid, values)
	w.leaf().Append(off)
	w.rowid = rowid
	w.pending = true
	return nil
}

// AppendEmptyRow appends a row whose columns are all NULL.
// Fill it in with SetColumn.
func (w *Writer) AppendEmptyRow() error {
	w.mustBeLive()
	if err := w.reload(); err != nil {
		return err
	}
	n := record.HeaderLenWidth + w.columns
	if err := record.CheckSizes(n, n, pagebuf.MaxLocal(w.usable)); err != nil {
		return err
	}
	if w.rowid == math.MaxUint32 {
		return ErrTooLong
	}

	rowid := w.rowid + 1
	off, err := w.makeSpace(record.EmptyCellLen(rowid, w.columns))
	if err != nil {
		return err
	}
	record.PutEmptyCell(w.buf[off:], rowid, w.columns)
	w.leaf().Append(off)
	w.rowid = rowid
	w.pending = true
	return nil
}

// makeSpace returns the offset for a new cell of n bytes, first moving on to
// a new page if the current one is full.
func (w *Writer) makeSpace(n int) (int, error) {
	for {
		p := w.leaf()
		off, ok, err := p.Reserve(n)
		if err != nil || ok {
			return off, err
		}
		if w.page == 1 || p.Kind() == pagebuf.Empty {
			return 0, ErrTooLong
		}
		if err := w.writePage(w.page); err != nil {
			return 0, err
		}
		w.page = w.next(w.page)
		clear(w.buf)
		w.leaf().InitLeaf()
	}
}

// SetColumn replaces column i of the last row appended.
// If the page holds no row yet, an empty row is appended first.
//
// When the row outgrows its page it is moved alone to a new page.
// v must not point into the page buffer; copy values returned by Column.
func (w *Writer) SetColumn(i int, v record.Value) error {
	w.mustBeLive()
	if err := w.reload(); err != nil {
		return err
	}
	if w.leaf().Kind() == pagebuf.Empty {
		if err := w.AppendEmptyRow(); err != nil {
			return err
		}
	}
	p := w.leaf()
	if err := p.Check(); err != nil {
		return err
	}
	start := p.LastCell()
	loc, err := record.Locate(w.buf[start:], i, w.usable-start)
	if err != nil {
		return err
	}

	growth := record.Growth(loc, v)
	hdrLen := loc.HeaderLen + svarint.Length(v.SerialType()) - loc.SerialLen
	cellLen := loc.End() + growth
	if err := record.CheckSizes(hdrLen, loc.RecordLen+growth, pagebuf.MaxLocal(w.usable)); err != nil {
		return err
	}

	if !p.CanGrowLast(growth) {
		if !w.fitsAlone(cellLen) || p.NumCells() == 1 {
			return ErrTooLong
		}
		if start, err = w.moveLastRow(start, loc.End()); err != nil {
			return err
		}
		p = w.leaf()
	}

	p.MoveLast(record.Replace(w.buf, start, loc, v))
	w.pending = true
	return nil
}

// fitsAlone reports whether a cell of n bytes fits on an empty page like the current one.
func (w *Writer) fitsAlone(n int) bool {
	hdr := 0
	if w.page == 1 {
		hdr = pagebuf.DatabaseHeaderSize
	}
	return w.usable-n-pagebuf.ChecksumLen >= hdr+pagebuf.TableLeafHeaderSize+2
}

// moveLastRow writes the current page without its last row,
// then starts the next page with that row alone. It returns the new cell offset.
func (w *Writer) moveLastRow(start, cellLen int) (int, error) {
	p := w.leaf()
	p.DropLast()
	// The checksums of the shortened page land on the tail of the dropped row.
	saved := checksum.Save(w.buf, p.ContentStart())
	err := w.writePage(w.page)
	saved.Restore(w.buf)
	if err != nil {
		p.Append(start)
		return 0, err
	}

	w.page = w.next(w.page)
	dst := w.usable - cellLen
	copy(w.buf[dst:], w.buf[start:start+cellLen])
	clear(w.buf[:dst])
	p = w.leaf()
	p.InitLeaf()
	p.Append(dst)
	return dst, nil
}

// Column returns column i of the last row appended.
// Text and blob values point into the page buffer
// and are only valid until the Writer is next used.
func (w *Writer) Column(i int) (record.Value, error) {
	if err := w.reload(); err != nil {
		return record.Value{}, err
	}
	p := w.leaf()
	if p.Kind() != pagebuf.Leaf {
		return record.Value{}, ErrNotFound
	}
	if err := p.Check(); err != nil {
		return record.Value{}, err
	}
	start := p.LastCell()
	loc, err := record.Locate(w.buf[start:], i, w.usable-start)
	if err != nil {
		return record.Value{}, err
	}
	return record.Decode(loc.Serial, w.buf[start+loc.Data:start+loc.End()])
}
