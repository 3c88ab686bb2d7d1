package checksum

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanwade90/streamlite/internal/errkind"
	"github.com/jordanwade90/streamlite/internal/pagebuf"
	"github.com/jordanwade90/streamlite/record"
)

// leafPage returns a stamped leaf page holding rows with row ids 1 through rows.
func leafPage(t *testing.T, size, rows int) []byte {
	t.Helper()
	buf := make([]byte, size)
	p := pagebuf.View(buf, 0, size)
	p.InitLeaf()
	for i := 1; i <= rows; i++ {
		values := []record.Value{record.Int32(int32(i)), record.Text("row"), record.Float64(float64(i) / 3)}
		n := record.CellLen(uint32(i), values)
		off, ok, err := p.Reserve(n)
		require.NoError(t, err)
		require.True(t, ok)
		record.PutCell(buf[off:], uint32(i), values)
		p.Append(off)
	}
	require.NoError(t, Apply(buf, Stamp))
	return buf
}

func TestStampThenCheck(t *testing.T) {
	buf := leafPage(t, 512, 5)
	for _, m := range []Mode{CheckHeader, CheckRecord, CheckPage} {
		assert.NoError(t, Apply(buf, m), m.String())
	}
}

func TestStampIdempotent(t *testing.T) {
	buf := leafPage(t, 1024, 9)
	again := bytes.Clone(buf)
	require.NoError(t, Apply(again, Stamp))
	assert.Equal(t, buf, again)
}

func TestSingleByteFlipDetected(t *testing.T) {
	buf := leafPage(t, 512, 4)
	p := pagebuf.View(buf, 0, 512)

	var covered []int
	covered = append(covered, 1, 2, 7)
	for i := pagebuf.TableLeafHeaderSize; i < p.PointerEnd(p.NumCells()); i++ {
		covered = append(covered, i)
	}
	covered = append(covered, p.ContentStart()-pagebuf.ChecksumLen)
	for i := p.ContentStart(); i < len(buf); i++ {
		covered = append(covered, i)
	}

	for _, i := range covered {
		bad := bytes.Clone(buf)
		bad[i] ^= 0x01
		assert.Error(t, Apply(bad, CheckPage), "flipped byte %d", i)
	}
}

func TestChecksLocalizeDamage(t *testing.T) {
	buf := leafPage(t, 512, 3)
	start := pagebuf.ContentStart(buf)

	bad := bytes.Clone(buf)
	bad[start-1] ^= 0xff
	assert.ErrorIs(t, Apply(bad, CheckHeader), errkind.ErrChecksum)

	// damage to an older row leaves the newest row's sums intact
	bad = bytes.Clone(buf)
	bad[len(buf)-1] ^= 0x10
	assert.NoError(t, Apply(bad, CheckHeader))
	assert.NoError(t, Apply(bad, CheckRecord), "the record sum only covers the newest row")
	assert.ErrorIs(t, Apply(bad, CheckPage), errkind.ErrChecksum)

	bad = bytes.Clone(buf)
	loc, err := record.Locate(bad[start:], 1, len(bad)-start)
	require.NoError(t, err)
	bad[start+loc.Data] ^= 0x10
	assert.NoError(t, Apply(bad, CheckHeader))
	assert.ErrorIs(t, Apply(bad, CheckRecord), errkind.ErrChecksum)
}

func TestEmptyAndInteriorPagesPass(t *testing.T) {
	buf := make([]byte, 512)
	p := pagebuf.View(buf, 0, 512)
	p.InitLeaf()
	require.NoError(t, Apply(buf, Stamp))
	assert.Equal(t, make([]byte, 512-8), buf[8:], "stamping an empty leaf writes nothing")

	p.InitInterior()
	p.AddChild(2, 10)
	assert.NoError(t, Apply(buf, CheckPage))
}

func TestMalformedLeaf(t *testing.T) {
	buf := leafPage(t, 512, 2)
	bad := bytes.Clone(buf)
	bad[5], bad[6] = 0, 9 // content start inside the pointer array
	assert.ErrorIs(t, Apply(bad, CheckHeader), errkind.ErrMalformed)

	bad = bytes.Clone(buf)
	start := pagebuf.ContentStart(bad)
	bad[start+2] |= 0x80 // record length no longer ends after three bytes
	assert.ErrorIs(t, Apply(bad, Stamp), errkind.ErrMalformed)
}

func TestPage1(t *testing.T) {
	buf := make([]byte, 512)
	pagebuf.InitHeader(buf, 512, 0)
	pagebuf.View(buf, pagebuf.DatabaseHeaderSize, 512).InitLeaf()
	buf[300] = 42

	require.NoError(t, Apply(buf, Stamp))
	assert.Equal(t, Page1(buf), buf[pagebuf.Page1Checksum])
	assert.NoError(t, Apply(buf, CheckPage))
	assert.NoError(t, Apply(buf, CheckHeader))

	buf[300] = 43
	assert.ErrorIs(t, Apply(buf, CheckPage), errkind.ErrChecksum)
}

func TestLastRowID(t *testing.T) {
	buf := leafPage(t, 8192, 200)
	start := pagebuf.ContentStart(buf)

	rowid, err := LastRowID(buf[:8], buf[start-1:start+11])
	require.NoError(t, err)
	assert.Equal(t, uint32(200), rowid)

	tail := bytes.Clone(buf[start-1 : start+11])
	tail[0]++
	_, err = LastRowID(buf[:8], tail)
	assert.ErrorIs(t, err, errkind.ErrChecksum)

	_, err = LastRowID(buf[:8], tail[:3])
	assert.ErrorIs(t, err, errkind.ErrMalformed)
}

func TestSaveRestore(t *testing.T) {
	buf := leafPage(t, 512, 3)
	p := pagebuf.View(buf, 0, 512)
	last := p.LastCell()
	cell := bytes.Clone(buf[last:p.Cell(1)])

	// stamping with the last cell dropped overwrites the tail of that cell
	p.DropLast()
	saved := Save(buf, p.ContentStart())
	require.NoError(t, Apply(buf, Stamp))
	assert.NoError(t, Apply(buf, CheckPage))
	saved.Restore(buf)
	assert.Equal(t, cell, buf[last:p.Cell(1)])
}
