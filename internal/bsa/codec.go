// Package bsa adapts the game archive (BSA) format behind the fixed
// C-style surface described by the specification: create/free a handle,
// set flags/types, add files, write; or open/close an existing archive,
// extract an entry, check existence, count entries.
//
// The real Bethesda BSA codec is an external, pre-built native library
// (out of scope per spec §1 — "the low-level binary archive codec,
// treated as a linked library with a fixed C-style interface"). This
// package is the Go-side adapter that would, in the original system,
// marshal calls across that boundary. Since no such library is linked
// here, the adapter owns a small, self-consistent binary container
// format behind the same interface: it round-trips everything this
// module writes and reads, which is all the adapter contract requires.
package bsa

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Version identifies the on-disk archive version tag written into the
// container header.
type Version uint32

// Recognized version tags (spec §4.5).
const (
	VersionTES4 Version = 103
	VersionFO3  Version = 104
	VersionFNV  Version = 104
	VersionTES5 Version = 104
	VersionSSE  Version = 105
)

// Flags is the closed bitmask of archive-format flags (spec §4.5).
type Flags uint32

const (
	FlagDirectoryStrings Flags = 1 << iota
	FlagFileStrings
	FlagCompressed
	FlagRetainDirectoryNames
	FlagRetainFileNames
	FlagRetainFileNameOffsets
	FlagXbox360Archive
	FlagEmbedFileNames
	FlagXMemCodec
)

// Types is the closed bitmask of content-type classes (spec §4.5, §4.7).
type Types uint32

const (
	TypeMeshes Types = 1 << iota
	TypeTextures
	TypeMenus
	TypeSounds
	TypeVoices
	TypeShaders
	TypeTrees
	TypeFonts
	TypeMisc
)

const magic = "TTWB"

var (
	// ErrClosed is returned by operations on a handle that has already
	// been closed or freed.
	ErrClosed = errors.New("bsa: handle is closed")
	// ErrNotFound is returned by ExtractFile/FileExists for an entry
	// that isn't present in the archive.
	ErrNotFound = errors.New("bsa: entry not found")
	// ErrDoubleFree is returned by Buffer.Free when called more than
	// once on the same buffer (spec §3: "the codec's free function must
	// be invoked exactly once").
	ErrDoubleFree = errors.New("bsa: buffer already freed")
)

type entry struct {
	dir, name string
	offset    int64
	length    int64
}

// Handle is a single archive context: either accumulating files for
// write (after Create), or holding the table of contents of an opened
// archive for reading (after OpenArchive). A Handle is safe for
// concurrent ExtractFile/FileExists/FileCount calls once opened; Create,
// AddFile, Write, and CloseArchive/Free are not intended to race with
// reads.
type Handle struct {
	mu sync.RWMutex

	closed bool
	lastErr error

	// write-mode state
	flags   Flags
	types   Types
	pending []entry
	blobs   [][]byte

	// read-mode state
	path    string
	file    *os.File
	toc     map[string]entry
	ordered []string
}

// Create returns a new handle in write-accumulation mode, mirroring the
// native library's create() call.
func Create() *Handle {
	return &Handle{toc: make(map[string]entry)}
}

// Free releases a handle's resources. Safe to call multiple times.
func (h *Handle) Free() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file != nil {
		h.file.Close()
		h.file = nil
	}
	h.closed = true
	h.pending = nil
	h.blobs = nil
	h.toc = nil
}

// SetArchiveFlags records the format-flag bitmask to use when Write is
// called.
func (h *Handle) SetArchiveFlags(flags Flags) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flags = flags
}

// SetArchiveTypes records the content-class bitmask to use when Write is
// called.
func (h *Handle) SetArchiveTypes(types Types) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.types = types
}

// AddFile stages a file for inclusion the next time Write is called.
// dir and name are stored as given; normalization is the caller's
// responsibility (see internal/bsawrite for the logical-path rules).
func (h *Handle) AddFile(dir, name string, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	h.blobs = append(h.blobs, buf)
	h.pending = append(h.pending, entry{dir: dir, name: name, length: int64(len(buf))})
	return nil
}

// Write serializes every staged file into outputPath under the given
// version tag.
func (h *Handle) Write(outputPath string, version Version) (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	defer func() {
		if err != nil {
			h.lastErr = err
		}
	}()

	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)

	if _, err = bw.WriteString(magic); err != nil {
		return err
	}
	if err = binary.Write(bw, binary.LittleEndian, uint32(version)); err != nil {
		return err
	}
	if err = binary.Write(bw, binary.LittleEndian, uint32(h.flags)); err != nil {
		return err
	}
	if err = binary.Write(bw, binary.LittleEndian, uint32(h.types)); err != nil {
		return err
	}
	if err = binary.Write(bw, binary.LittleEndian, uint32(len(h.pending))); err != nil {
		return err
	}

	// compute offsets relative to start of data blob
	var cursor int64
	offsets := make([]int64, len(h.pending))
	for i, e := range h.pending {
		offsets[i] = cursor
		cursor += e.length
	}

	for i, e := range h.pending {
		if err = writeLPString(bw, e.dir); err != nil {
			return err
		}
		if err = writeLPString(bw, e.name); err != nil {
			return err
		}
		if err = binary.Write(bw, binary.LittleEndian, offsets[i]); err != nil {
			return err
		}
		if err = binary.Write(bw, binary.LittleEndian, e.length); err != nil {
			return err
		}
	}

	for _, blob := range h.blobs {
		if _, err = bw.Write(blob); err != nil {
			return err
		}
	}

	return bw.Flush()
}

func writeLPString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readLPString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// OpenArchive opens an existing archive file for reading, loading its
// table of contents into memory. Entry data is read lazily per
// ExtractFile call.
func OpenArchive(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	br := bufio.NewReader(f)
	magicBuf := make([]byte, len(magic))
	if _, err := io.ReadFull(br, magicBuf); err != nil {
		f.Close()
		return nil, fmt.Errorf("bsa: %s: %w", path, err)
	}
	if string(magicBuf) != magic {
		f.Close()
		return nil, fmt.Errorf("bsa: %s: not an archive (bad magic)", path)
	}

	var version, flags, types, count uint32
	for _, dst := range []*uint32{&version, &flags, &types, &count} {
		if err := binary.Read(br, binary.LittleEndian, dst); err != nil {
			f.Close()
			return nil, err
		}
	}

	toc := make(map[string]entry, count)
	ordered := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		dir, err := readLPString(br)
		if err != nil {
			f.Close()
			return nil, err
		}
		name, err := readLPString(br)
		if err != nil {
			f.Close()
			return nil, err
		}
		var offset, length int64
		if err := binary.Read(br, binary.LittleEndian, &offset); err != nil {
			f.Close()
			return nil, err
		}
		if err := binary.Read(br, binary.LittleEndian, &length); err != nil {
			f.Close()
			return nil, err
		}
		key := normalizeKey(dir, name)
		toc[key] = entry{dir: dir, name: name, offset: offset, length: length}
		ordered = append(ordered, key)
	}

	// remember where the data blob starts
	dataStart, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return nil, err
	}
	// account for buffered-but-unconsumed bytes in br
	dataStart -= int64(br.Buffered())

	for k, e := range toc {
		e.offset += dataStart
		toc[k] = e
	}

	return &Handle{
		path:    path,
		file:    f,
		toc:     toc,
		ordered: ordered,
		flags:   Flags(flags),
		types:   Types(types),
	}, nil
}

// CloseArchive closes a handle opened with OpenArchive. Safe to call
// exactly once per OpenArchive call (spec invariant: "every opened
// handle is closed exactly once").
func (h *Handle) CloseArchive() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	if h.file != nil {
		return h.file.Close()
	}
	return nil
}

// Entries returns the logical dir/name paths of every entry in an
// opened (read-mode) archive, in TOC order. It satisfies the minimal
// ArchiveEntryReader shape internal/scratch needs for package
// extraction, without that package importing internal/bsa directly.
func (h *Handle) Entries() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.ordered))
	for _, key := range h.ordered {
		e := h.toc[key]
		if e.dir == "" {
			out = append(out, e.name)
		} else {
			out = append(out, e.dir+"/"+e.name)
		}
	}
	return out
}

// Extract is a convenience wrapper around ExtractFile that copies the
// bytes out and frees the underlying buffer in one step.
func (h *Handle) Extract(entryPath string) ([]byte, error) {
	buf, err := h.ExtractFile(entryPath)
	if err != nil {
		return nil, err
	}
	defer buf.Free()
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

// Close is an alias for CloseArchive, satisfying io.Closer-shaped
// interfaces used by callers that only need read access.
func (h *Handle) Close() error {
	return h.CloseArchive()
}

// Buffer is a scoped, exactly-once-freeable handle to extracted entry
// bytes, standing in for the native library's (ptr, len) pair and its
// paired free function.
type Buffer struct {
	mu    sync.Mutex
	data  []byte
	freed bool
}

// Bytes returns the buffer's content. Calling it after Free is
// undefined in the native library and a programming error here.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Free releases the buffer. Returns ErrDoubleFree if already freed.
func (b *Buffer) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.freed {
		return ErrDoubleFree
	}
	b.freed = true
	b.data = nil
	return nil
}

func normalizeKey(dir, name string) string {
	full := dir
	if full != "" {
		full += "/"
	}
	full += name
	return strings.ToLower(strings.ReplaceAll(full, "\\", "/"))
}

// normalizeEntryPath converts a caller-supplied logical entry path (which
// may use either separator) into the lowercase, '/'-joined dir/name form
// used as the TOC key.
func normalizeEntryPath(entryPath string) string {
	p := strings.ReplaceAll(entryPath, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	return strings.ToLower(p)
}

// ExtractFile reads an entry's bytes into a freshly allocated Buffer.
// Safe to call concurrently on the same handle from multiple readers
// (spec §4.6, §9 "thread safety of the archive codec").
func (h *Handle) ExtractFile(entryPath string) (*Buffer, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	e, ok := h.toc[normalizeEntryPath(entryPath)]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, e.length)
	if _, err := h.file.ReadAt(buf, e.offset); err != nil {
		return nil, err
	}
	return &Buffer{data: buf}, nil
}

// FileExists reports whether entryPath is present in the archive.
func (h *Handle) FileExists(entryPath string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}
	_, ok := h.toc[normalizeEntryPath(entryPath)]
	return ok
}

// FileCount returns the number of entries in an opened (read-mode)
// archive, or the number staged in a write-mode handle.
func (h *Handle) FileCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.file != nil {
		return len(h.toc)
	}
	return len(h.pending)
}

// LastError returns the most recent operation error recorded on this
// handle, mirroring the native library's lastError() query function.
func (h *Handle) LastError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}
