// Package streamlite writes a SQLite database one row at a time
// while holding a single page in memory, for loggers and other
// appenders that cannot afford a SQLite library or a large heap.
//
// First, skim the description of SQLite's architecture at https://sqlite.org/arch.html.
//
// In terms of SQLite's architecture,
// this library replaces the pager and the B-tree layer for one use:
// appending rows with increasing rowids to a single table.
// Rows are packed into table leaf pages, which are written out in order as they fill.
// While rows are being appended the file carries its own signature
// so that SQLite will not open a database whose interior pages do not exist yet.
// Finalize reads the leaf pages back, a few bytes at a time,
// builds the interior pages of the B-tree level by level,
// points sqlite_schema at the root and swaps in the standard signature.
//
// Now, read the description of the SQLite file format at https://sqlite.org/fileformat2.html.
// Two liberties are taken with it while a file is in progress, both invisible to SQLite:
// every leaf page carries three checksums in the free space below its newest cell,
// and the lengths at the front of each cell use fixed-width varints
// so the newest row can be edited in place with SetColumn.
//
// Appending can resume after a crash or after Finalize with Open.
// Recover finalizes a file whose Writer is gone.
// Damaged leaves are left out of the finished table; their bytes are kept.
//
// Overflow pages are not written, so a row must fit on one page.
package streamlite
