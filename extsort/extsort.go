// Package extsort implements an external merge sort for keyed records.
// Entries are buffered in memory, sorted, and spilled as compressed run
// files; Merge streams any number of runs back in one globally sorted pass.
package extsort

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"sort"

	"github.com/golang/snappy"

	"github.com/biogo/store/llrb"
	"v.io/x/lib/vlog"
)

// DefaultBatchSize is the default number of entries to keep in memory
// before spilling a sorted run.
const DefaultBatchSize = 1 << 20

// Run file layout: a one-byte compression flag, then a sequence of records,
// each `key uint64 | bodyLen uint32 | body`, little endian.
const (
	runRaw    = 0
	runSnappy = 1

	runHeaderSize = 12
)

// Options controls a Sorter.
type Options struct {
	// BatchSize is the number of entries kept in memory before a sorted run
	// is spilled. If <= 0, DefaultBatchSize is used.
	BatchSize int
	// TmpDir is the directory run files are created in. "" means the system
	// default, usually /tmp.
	TmpDir string
	// NoCompressTmpFiles, if false (default), compresses run files with
	// snappy.
	NoCompressTmpFiles bool
}

// Entry is one record: a 64-bit sort key and an opaque body. Entries order
// by key, then body bytes.
type Entry struct {
	Key  uint64
	Body []byte
}

// compare returns -1, 0, 1 if e < other, e == other, e > other.
func (e Entry) compare(other Entry) int {
	if e.Key < other.Key {
		return -1
	}
	if e.Key > other.Key {
		return 1
	}
	return bytes.Compare(e.Body, other.Body)
}

// A Sorter accumulates entries and spills them as sorted run files. Close
// hands the run paths to the caller for use with Merge. Sorters are not
// threadsafe.
type Sorter struct {
	opts   Options
	batch  []Entry
	runs   []string
	n      int64
	closed bool
	err    error
}

// NewSorter returns a Sorter writing runs according to opts.
func NewSorter(opts Options) *Sorter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Sorter{opts: opts}
}

// Add buffers one entry, spilling the current batch when it reaches the
// batch size. The body is copied. Add fails on a closed sorter.
func (s *Sorter) Add(key uint64, body []byte) error {
	if s.err != nil {
		return s.err
	}
	if s.closed {
		return fmt.Errorf("extsort: Add called after Close")
	}
	s.batch = append(s.batch, Entry{Key: key, Body: append([]byte(nil), body...)})
	s.n++
	if len(s.batch) >= s.opts.BatchSize {
		s.err = s.spill()
	}
	return s.err
}

// Len returns the total number of entries added so far.
func (s *Sorter) Len() int64 { return s.n }

// Close spills any buffered entries and returns the paths of all run files
// in creation order. Ownership of the files passes to the caller; a
// subsequent Discard will not remove them.
func (s *Sorter) Close() ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batch) > 0 {
		if err := s.spill(); err != nil {
			return nil, err
		}
	}
	runs := s.runs
	s.runs = nil
	s.closed = true
	return runs, nil
}

// Discard drops buffered entries and removes any run files not yet handed
// over by Close. It is safe to call after Close.
func (s *Sorter) Discard() {
	for _, path := range s.runs {
		if err := os.Remove(path); err != nil {
			vlog.Errorf("extsort: failed to remove run file %s: %v", path, err)
		}
	}
	s.runs = nil
	s.batch = nil
}

func (s *Sorter) spill() error {
	sort.Slice(s.batch, func(i, j int) bool { return s.batch[i].compare(s.batch[j]) < 0 })
	f, err := ioutil.TempFile(s.opts.TmpDir, "extsort-run-")
	if err != nil {
		return err
	}
	flag := byte(runSnappy)
	if s.opts.NoCompressTmpFiles {
		flag = runRaw
	}
	if _, err = f.Write([]byte{flag}); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	var w io.Writer
	var flush func() error
	if flag == runSnappy {
		sw := snappy.NewBufferedWriter(f)
		w, flush = sw, sw.Close
	} else {
		bw := bufio.NewWriter(f)
		w, flush = bw, bw.Flush
	}
	var hdr [runHeaderSize]byte
	for _, e := range s.batch {
		binary.LittleEndian.PutUint64(hdr[:8], e.Key)
		binary.LittleEndian.PutUint32(hdr[8:], uint32(len(e.Body)))
		if _, err = w.Write(hdr[:]); err == nil {
			_, err = w.Write(e.Body)
		}
		if err != nil {
			break
		}
	}
	if err == nil {
		err = flush()
	}
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("extsort: spill %s: %v", f.Name(), err)
	}
	vlog.VI(1).Infof("extsort: spilled run %s (%d entries)", f.Name(), len(s.batch))
	s.runs = append(s.runs, f.Name())
	s.batch = s.batch[:0]
	return nil
}

// A runReader streams one run file back in order. It doubles as the llrb
// tree node during the merge.
type runReader struct {
	seq  int
	path string
	f    *os.File
	r    io.Reader
	ent  Entry
	body []byte
	err  error
}

func newRunReader(seq int, path string) (*runReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var flag [1]byte
	if _, err := io.ReadFull(f, flag[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("extsort: read %s: %v", path, err)
	}
	r := &runReader{seq: seq, path: path, f: f}
	switch flag[0] {
	case runSnappy:
		r.r = snappy.NewReader(f)
	case runRaw:
		r.r = bufio.NewReader(f)
	default:
		f.Close()
		return nil, fmt.Errorf("extsort: %s: unknown compression flag %d", path, flag[0])
	}
	return r, nil
}

// scan reads the next entry. It returns false at end of run or on error.
func (r *runReader) scan() bool {
	var hdr [runHeaderSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if err != io.EOF {
			r.err = fmt.Errorf("extsort: read %s: %v", r.path, err)
		}
		return false
	}
	n := binary.LittleEndian.Uint32(hdr[8:])
	if cap(r.body) < int(n) {
		r.body = make([]byte, n)
	}
	r.body = r.body[:n]
	if _, err := io.ReadFull(r.r, r.body); err != nil {
		r.err = fmt.Errorf("extsort: read %s: %v", r.path, err)
		return false
	}
	r.ent = Entry{Key: binary.LittleEndian.Uint64(hdr[:8]), Body: r.body}
	return true
}

func (r *runReader) close() {
	if r.f != nil {
		r.f.Close()
		r.f = nil
	}
}

// Compare orders run readers by their current entry, breaking ties by run
// sequence so the merge is stable with respect to run creation order.
func (r *runReader) Compare(c llrb.Comparable) int {
	other := c.(*runReader)
	if c := r.ent.compare(other.ent); c != 0 {
		return c
	}
	return r.seq - other.seq
}

// Merge streams the entries of the given runs in ascending (key, body)
// order, calling fn once per entry. The entry's body is only valid for the
// duration of the call. Run files are left in place.
func Merge(paths []string, fn func(Entry) error) (err error) {
	readers := make([]*runReader, 0, len(paths))
	defer func() {
		for _, r := range readers {
			r.close()
		}
	}()

	// Sort the inputs with a binary tree keyed by each run's current head.
	// The run at the top tends to stay at the top for many records, so
	// maintaining the order is cheap.
	leafs := llrb.Tree{}
	for seq, path := range paths {
		r, err := newRunReader(seq, path)
		if err != nil {
			return err
		}
		readers = append(readers, r)
		if r.scan() {
			leafs.Insert(r)
		} else if r.err != nil {
			return r.err
		}
	}
	vlog.VI(1).Infof("extsort: merging %d runs, %d non-empty", len(paths), leafs.Len())

	for leafs.Len() > 0 {
		// top is the run with the smallest head; next the second smallest.
		var top, next *runReader
		nth := 0
		leafs.Do(func(item llrb.Comparable) bool {
			nth++
			switch nth {
			case 1:
				top = item.(*runReader)
				return false
			case 2:
				next = item.(*runReader)
				return true
			default:
				vlog.Fatal(nth)
				return false
			}
		})
		// Drain top until its head is no longer the smallest.
		done := false
		for {
			if err := fn(top.ent); err != nil {
				return err
			}
			if !top.scan() {
				done = true
				break
			}
			if next != nil && next.Compare(top) < 0 {
				break
			}
		}
		leafs.DeleteMin()
		if !done {
			leafs.Insert(top)
		} else if top.err != nil {
			return top.err
		}
	}
	return nil
}
