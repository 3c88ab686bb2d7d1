package pagebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanwade90/streamlite/internal/errkind"
)

func TestInitLeaf(t *testing.T) {
	for _, size := range []int{512, 4096, 65536} {
		buf := make([]byte, size)
		p := View(buf, 0, size)
		p.InitLeaf()
		assert.Equal(t, Empty, p.Kind())
		assert.Equal(t, 0, p.NumCells())
		assert.Equal(t, size, p.ContentStart())
		assert.NoError(t, p.Check())
	}

	buf := make([]byte, 1024)
	p := View(buf, 0, 1000)
	p.InitLeaf()
	assert.Equal(t, 1000, p.ContentStart(), "reserved bytes stay outside the content area")
}

func TestReserveFillsPage(t *testing.T) {
	const size = 512
	buf := make([]byte, size)
	p := View(buf, 0, size)
	p.InitLeaf()

	cells := 0
	for {
		off, ok, err := p.Reserve(20)
		require.NoError(t, err)
		if !ok {
			break
		}
		buf[off] = byte(cells)
		p.Append(off)
		cells++
		assert.LessOrEqual(t, p.PointerEnd(p.NumCells())+ChecksumLen, p.ContentStart())
		assert.Equal(t, off, p.LastCell())
	}
	// 8 header bytes, 3 checksum bytes, 22 bytes per cell
	assert.Equal(t, (size-8-3)/22, cells)
	assert.Equal(t, Leaf, p.Kind())

	for i := 0; i < cells; i++ {
		assert.Equal(t, size-20*(i+1), p.Cell(i))
	}
}

func TestReserveOnPage1(t *testing.T) {
	buf := make([]byte, 512)
	p := View(buf, DatabaseHeaderSize, 512)
	p.InitLeaf()
	_, ok, err := p.Reserve(512 - 100 - 8 - 2 - 3)
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = p.Reserve(512 - 100 - 8 - 2 - 2)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckRejectsBadGeometry(t *testing.T) {
	buf := make([]byte, 512)
	p := View(buf, 0, 500)
	p.InitLeaf()
	p.Append(400)

	p.setContentStart(501)
	assert.ErrorIs(t, p.Check(), errkind.ErrMalformed)
	p.setContentStart(10)
	_, _, err := p.Reserve(1)
	assert.ErrorIs(t, err, errkind.ErrMalformed)

	buf[0] = 2
	assert.Equal(t, Invalid, p.Kind())
	assert.ErrorIs(t, p.Check(), errkind.ErrMalformed)
}

func TestGrowAndDropLast(t *testing.T) {
	buf := make([]byte, 512)
	p := View(buf, 0, 512)
	p.InitLeaf()
	p.Append(500)
	p.Append(480)

	assert.True(t, p.CanGrowLast(480-8-4-3))
	assert.False(t, p.CanGrowLast(480-8-4-2))
	p.MoveLast(470)
	assert.Equal(t, 470, p.ContentStart())
	assert.Equal(t, 470, p.Cell(1))

	p.DropLast()
	assert.Equal(t, 1, p.NumCells())
	assert.Equal(t, 500, p.ContentStart())
	p.DropLast()
	assert.Equal(t, Empty, p.Kind())
	assert.Equal(t, 512, p.ContentStart())
}

func TestInteriorBuild(t *testing.T) {
	const size = 512
	buf := make([]byte, size)
	p := View(buf, 0, size)
	p.InitInterior()
	assert.Equal(t, Interior, p.Kind())

	child := PageNumber(2)
	rowid := uint32(1000)
	for !p.AddChild(child, rowid) {
		child++
		rowid += 100
		// the stash after the pointer array must never reach the cells
		assert.LessOrEqual(t, p.PointerEnd(p.NumCells())+5, p.ContentStart())
	}
	n := p.NumCells()
	assert.Equal(t, child, p.RightChild())
	assert.Equal(t, rowid, p.StashedRowid())

	// every cell is a 4-byte child and a 2-byte row id varint
	assert.Equal(t, size-6*n, p.ContentStart())
	assert.Less(t, p.ContentStart()-6, p.PointerEnd(n+1)+5)

	p.Seal()
	assert.Equal(t, n-1, p.NumCells())
	assert.Equal(t, child-1, p.RightChild())
	assert.Equal(t, rowid-100, p.StashedRowid())
}

func TestSealSingleChild(t *testing.T) {
	buf := make([]byte, 512)
	p := View(buf, 0, 512)
	p.InitInterior()
	require.False(t, p.AddChild(7, 1<<20))
	p.Seal()
	assert.Equal(t, 0, p.NumCells())
	assert.Equal(t, PageNumber(7), p.RightChild())
	assert.Equal(t, uint32(1<<20), p.StashedRowid())
	assert.Equal(t, 512, p.ContentStart())
}

func TestHeader(t *testing.T) {
	for _, size := range []int{512, 1024, 65536} {
		buf := make([]byte, size)
		h := InitHeader(buf, size, 8)
		require.NoError(t, h.Check())
		assert.True(t, h.InProgress())
		assert.False(t, h.Final())
		assert.Equal(t, size, h.PageSize())
		assert.Equal(t, size-8, h.Usable())
		assert.Equal(t, uint32(2), h.PageCount())
		assert.Equal(t, byte(AppIDMarker), buf[68])

		h.SetFinal()
		assert.Equal(t, SignatureFinal, string(buf[:16]))
		require.NoError(t, h.Check())
		h.SetInProgress()
		assert.True(t, h.InProgress())
	}

	buf := make([]byte, 512)
	h := InitHeader(buf, 65536, 0)
	assert.Equal(t, []byte{0, 1}, buf[16:18])

	h.SetLastLeaf(9)
	assert.Equal(t, PageNumber(9), h.LastLeaf())
	h.SetPageCount(12)
	assert.Equal(t, uint32(12), h.PageCount())
}

func TestHeaderCheck(t *testing.T) {
	buf := make([]byte, 512)
	h := InitHeader(buf, 512, 0)

	buf[68] = 0
	assert.ErrorIs(t, h.Check(), errkind.ErrInvalidSignature)
	buf[68] = AppIDMarker

	copy(buf, "SQLite format 4\000")
	assert.ErrorIs(t, h.Check(), errkind.ErrInvalidSignature)
	h.SetInProgress()

	buf[16], buf[17] = 3, 0
	assert.ErrorIs(t, h.Check(), errkind.ErrInvalidPageSize)
	buf[16], buf[17] = 2, 0
	buf[20] = 64
	assert.ErrorIs(t, h.Check(), errkind.ErrInvalidPageSize)

	assert.ErrorIs(t, Header(buf[:50]).Check(), errkind.ErrInvalidSignature)
}

func TestValidPageSize(t *testing.T) {
	for n, ok := range map[int]bool{256: false, 512: true, 768: false, 4096: true, 65536: true, 131072: false} {
		assert.Equal(t, ok, ValidPageSize(n), "%d", n)
	}
}
