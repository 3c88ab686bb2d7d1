package streamlite

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jordanwade90/streamlite/internal/pagebuf"
	"github.com/jordanwade90/streamlite/record"
)

// PartialFinalize flushes pending rows and records the last leaf page in the
// database header, so that Recover can finish the file without probing.
// Appending may continue afterwards.
func (w *Writer) PartialFinalize() error {
	w.mustBeLive()
	if err := w.reload(); err != nil {
		return err
	}
	if _, err := w.partialFinalize(); err != nil {
		return err
	}
	return w.reload()
}

// partialFinalize leaves page 1 in the buffer, which is then stale.
func (w *Writer) partialFinalize() (final bool, err error) {
	if w.pending {
		if err := w.Flush(); err != nil {
			return false, err
		}
	}
	w.stale = true
	if err := w.readPage(1); err != nil {
		return false, err
	}
	h := pagebuf.Header(w.buf)
	if h.Final() {
		return true, nil
	}
	if h.LastLeaf() != w.page {
		h.SetLastLeaf(w.page)
		if err := w.writePage(1); err != nil {
			return false, err
		}
	}
	return false, nil
}

// Finalize builds the interior pages of the table over the leaf pages written
// so far and gives the file the standard SQLite signature.
// Finalize on a finalized file does nothing.
//
// Leaves whose checksums do not match are left out of the table.
// Their bytes stay in the file.
// After Finalize the Writer can only report its state; use Open to append more rows.
//
// If Finalize fails before the file has the standard signature, the Writer
// stays usable: rows can be appended and Finalize tried again.
func (w *Writer) Finalize() error {
	if w.final {
		return nil
	}
	if err := w.reload(); err != nil {
		return err
	}
	final, err := w.partialFinalize()
	if err != nil {
		return err
	}
	if !final {
		committed, err := w.finalize(w.page)
		if err != nil {
			// Once page 1 is written the tree covers every row, so only syncing failed.
			w.final = committed
			return err
		}
	}
	w.final = true
	return nil
}

// Recover finishes a file whose Writer was abandoned.
// The last leaf comes from the header if PartialFinalize ran, else the leaf
// pages are probed. Recover on a finalized file does nothing.
func Recover(file Storage, opts ...Option) error {
	h, err := readHeader(file)
	if err != nil {
		return err
	}
	if h.Final() {
		return nil
	}
	o := buildOptions(opts)
	p := newPager(file, o.log, h.PageSize(), h.Reserved())

	from := max(h.LastLeaf(), 2)
	last, err := p.probe(from)
	if err != nil {
		return err
	}
	if last < from {
		if from > 2 {
			return fmt.Errorf("%w: page %d is not a leaf", ErrMalformed, from)
		}
		// No leaf was ever written.
		p.view(2).InitLeaf()
		if err := p.writePage(2); err != nil {
			return err
		}
		last = 2
	}
	o.log.Info("recovering", zap.Uint32("last_leaf", uint32(last)))
	_, err = p.finalize(last)
	return err
}

// finalize builds the tree over leaves 2 through last and rewrites page 1.
// committed reports whether page 1 was written with the standard signature.
func (p *pager) finalize(last pagebuf.PageNumber) (committed bool, err error) {
	root, end, levels, err := p.buildTree(last)
	if err != nil {
		return false, err
	}
	if t, ok := p.file.(truncater); ok {
		if err := t.Truncate(int64(end) * int64(p.pageSize)); err != nil {
			return false, &IOError{Kind: ErrWrite, Page: uint32(end), Err: err}
		}
	}

	if err := p.readPage(1); err != nil {
		return false, err
	}
	schema := p.view(1)
	if schema.Kind() != pagebuf.Leaf {
		return false, fmt.Errorf("%w: no schema row", ErrMalformed)
	}
	start := schema.LastCell()
	loc, err := record.Locate(p.buf[start:], 3, p.usable-start)
	if err != nil {
		return false, err
	}
	if loc.Serial != 4 {
		return false, fmt.Errorf("%w: root page column has serial type %d", ErrMalformed, loc.Serial)
	}
	binary.BigEndian.PutUint32(p.buf[start+loc.Data:], uint32(root))

	h := pagebuf.Header(p.buf)
	h.SetPageCount(uint32(end))
	h.SetLastLeaf(0)
	h.SetFinal()
	if err := p.writePage(1); err != nil {
		return false, err
	}
	if err := p.sync(1); err != nil {
		return true, err
	}
	p.log.Info("finalized",
		zap.Uint32("root", uint32(root)),
		zap.Int("levels", levels),
		zap.Uint32("pages", uint32(end)))
	return true, nil
}

// buildTree writes the interior levels over leaves 2 through last, one page at
// a time, re-reading each level from the file to build the next.
// It returns the root page, the last page of the database and the number of levels.
func (p *pager) buildTree(last pagebuf.PageNumber) (root, end pagebuf.PageNumber, levels int, err error) {
	first := pagebuf.PageNumber(2)
	out := p.next(last)
	levels = 1

	for leaves := true; ; leaves = false {
		var (
			accepted   int
			child      pagebuf.PageNumber
			firstEmpty pagebuf.PageNumber
			written    int
			prev       pagebuf.PageNumber
			levelStart = out
		)
		node := p.view(out)
		node.InitInterior()

		for c := first; c <= last; c = p.next(c) {
			rowid, err := p.lastRowID(c)
			switch {
			case err == nil:
			case leaves && err == errEmptyLeaf:
				if firstEmpty == 0 {
					firstEmpty = c
				}
				continue
			case leaves && (errors.Is(err, ErrChecksum) || errors.Is(err, ErrMalformed)):
				p.log.Warn("skipping leaf", zap.Uint32("page", uint32(c)), zap.Error(err))
				continue
			default:
				return 0, 0, 0, err
			}

			accepted++
			child = c
			if node.AddChild(c, rowid) {
				if err := p.writePage(out); err != nil {
					return 0, 0, 0, err
				}
				written++
				prev, out = out, p.next(out)
				node.InitInterior()
			}
		}

		switch accepted {
		case 0:
			// Every leaf was empty or damaged: the table is empty.
			if firstEmpty != 0 {
				return firstEmpty, last, levels, nil
			}
			node.InitLeaf()
			if err := p.writePage(out); err != nil {
				return 0, 0, 0, err
			}
			return out, out, levels, nil
		case 1:
			return child, last, levels, nil
		}

		if n := node.NumCells(); n > 0 {
			node.Seal()
			if n == 1 && written > 0 {
				if err := p.rebalance(prev); err != nil {
					return 0, 0, 0, err
				}
			}
			if err := p.writePage(out); err != nil {
				return 0, 0, 0, err
			}
			written++
			prev, out = out, p.next(out)
		}

		levels++
		if written == 1 {
			return prev, prev, levels, nil
		}
		first, last = levelStart, prev
	}
}

// rebalance fixes up a sealed interior page left with no cells, only a
// right-most child, by moving the right-most child of the page before it, prev,
// into it. The buffer holds the sealed page before and after.
func (p *pager) rebalance(prev pagebuf.PageNumber) error {
	node := p.view(prev)
	lone, loneRowid := node.RightChild(), node.StashedRowid()

	if err := p.readPage(prev); err != nil {
		return err
	}
	right, rowid := node.RightChild(), node.StashedRowid()
	node.Seal()
	if err := p.writePage(prev); err != nil {
		return err
	}

	node.InitInterior()
	node.AddChild(right, rowid)
	node.SetRight(lone, loneRowid)
	return nil
}
