// Package blockfile stores raw blocks and their undo records in append-only
// flat files.
//
// Blocks are written to blkNNNNN.dat and undo records to the revNNNNN.dat file
// with the same number. Every record is framed by the network magic and a
// 4-byte little-endian length. Undo records are followed by a SHA-256d
// checksum over the block hash and the record, so a stale or torn undo write
// is detected on read. A new block file is started when appending would take
// the current one past MaxBlockFileSize; files grow in chunk sized steps.
package blockfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bsv-blockchain/go-bt/v2/chainhash"
	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/model"
	"github.com/tessacoin/tessanode/ulogger"
)

const (
	// MaxBlockFileSize is the largest a blk file is allowed to grow.
	MaxBlockFileSize = 0x8000000 // 128 MiB

	// BlockFileChunkSize is the pre-allocation step of blk files.
	BlockFileChunkSize = 0x1000000 // 16 MiB

	// UndoFileChunkSize is the pre-allocation step of rev files.
	UndoFileChunkSize = 0x100000 // 1 MiB

	// recordHeaderSize is the magic plus length prefix of every record.
	recordHeaderSize = 8

	// maxRecordSize bounds the length prefix accepted on read.
	maxRecordSize = 32 << 20
)

type fileKind string

const (
	kindBlock fileKind = "blk"
	kindUndo  fileKind = "rev"
)

// Store manages the block and undo files of one data directory.
type Store struct {
	logger ulogger.Logger
	dir    string
	magic  [4]byte

	maxFileSize uint32
	chunkSize   uint32
	undoChunk   uint32

	mu       sync.Mutex
	info     []*FileInfo
	lastFile int32
	dirty    map[int32]struct{}
}

// Option customises a Store.
type Option func(*Store)

// WithMaxFileSize overrides the file rotation size, used by tests.
func WithMaxFileSize(size, chunk uint32) Option {
	return func(s *Store) {
		s.maxFileSize = size
		s.chunkSize = chunk

		if s.undoChunk > chunk {
			s.undoChunk = chunk
		}
	}
}

// New opens the block file directory, creating it if needed.
func New(logger ulogger.Logger, dir string, magic [4]byte, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.NewStorageError("failed to create blocks directory %s", dir, err)
	}

	s := &Store{
		logger:      logger,
		dir:         dir,
		magic:       magic,
		maxFileSize: MaxBlockFileSize,
		chunkSize:   BlockFileChunkSize,
		undoChunk:   UndoFileChunkSize,
		info:        []*FileInfo{{}},
		dirty:       make(map[int32]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// LoadInfo installs the file statistics read back from the block tree
// database.
func (s *Store) LoadInfo(info map[int32]*FileInfo, lastFile int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFile = lastFile
	s.info = make([]*FileInfo, lastFile+1)

	for i := range s.info {
		if fi, ok := info[int32(i)]; ok {
			s.info[i] = fi
		} else {
			s.info[i] = &FileInfo{}
		}
	}
}

// ResetInfo forgets every file statistic before a reindex rebuilds them
// with AddImported.
func (s *Store) ResetInfo() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastFile = 0
	s.info = []*FileInfo{{}}
	s.dirty = map[int32]struct{}{0: {}}
}

// AddImported accounts for a block found by Import at pos.
func (s *Store) AddImported(pos Pos, block *model.Block, height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for int(pos.File) >= len(s.info) {
		s.info = append(s.info, &FileInfo{})
	}

	if pos.File > s.lastFile {
		s.lastFile = pos.File
	}

	fi := s.info[pos.File]
	if end := pos.Offset + uint32(block.SerializeSize()); end > fi.Size {
		fi.Size = end
	}

	fi.AddBlock(height, uint64(block.Header.Timestamp))
	s.dirty[pos.File] = struct{}{}
}

// LastFile returns the number of the file currently being appended to.
func (s *Store) LastFile() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastFile
}

// Info returns a copy of the statistics of file n.
func (s *Store) Info(n int32) (FileInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 || int(n) >= len(s.info) {
		return FileInfo{}, false
	}

	return *s.info[n], true
}

// TakeDirty returns the statistics changed since the last call together with
// the last file number, for persistence in the block tree database.
func (s *Store) TakeDirty() (map[int32]*FileInfo, int32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int32]*FileInfo, len(s.dirty))

	for n := range s.dirty {
		fi := *s.info[n]
		out[n] = &fi
	}

	s.dirty = make(map[int32]struct{})

	return out, s.lastFile
}

func (s *Store) path(kind fileKind, n int32) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%05d.dat", kind, n))
}

// WriteBlock appends block to the current block file, rotating first if
// needed, and returns the position of the payload.
func (s *Store) WriteBlock(block *model.Block, height uint32) (Pos, error) {
	data := block.Bytes()

	s.mu.Lock()
	defer s.mu.Unlock()

	need := uint32(len(data) + recordHeaderSize)

	fi := s.info[s.lastFile]
	if fi.Size+need > s.maxFileSize && fi.Size > 0 {
		if err := s.finalize(s.lastFile); err != nil {
			return NullPos, err
		}

		s.lastFile++
		s.info = append(s.info, &FileInfo{})
		fi = s.info[s.lastFile]

		s.logger.Infof("[blockfile] leaving block file %d, starting %05d", s.lastFile-1, s.lastFile)
	}

	offset := fi.Size

	if err := s.writeRecord(kindBlock, s.lastFile, offset, data, nil, s.chunkSize); err != nil {
		return NullPos, err
	}

	fi.Size += need
	fi.AddBlock(height, uint64(block.Header.Timestamp))
	s.dirty[s.lastFile] = struct{}{}

	return Pos{File: s.lastFile, Offset: offset + recordHeaderSize}, nil
}

// WriteUndo appends the undo record of the block with hash blockHash to the
// rev file paired with blk file n.
func (s *Store) WriteUndo(n int32, undo []byte, blockHash chainhash.Hash) (Pos, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 || int(n) >= len(s.info) {
		return NullPos, errors.NewInvalidArgumentError("no block file %d", n)
	}

	fi := s.info[n]
	offset := fi.UndoSize
	checksum := undoChecksum(blockHash, undo)

	if err := s.writeRecord(kindUndo, n, offset, undo, checksum[:], s.undoChunk); err != nil {
		return NullPos, err
	}

	fi.UndoSize += uint32(len(undo) + recordHeaderSize + chainhash.HashSize)
	s.dirty[n] = struct{}{}

	return Pos{File: n, Offset: offset + recordHeaderSize}, nil
}

func (s *Store) writeRecord(kind fileKind, n int32, offset uint32, data []byte, trailer []byte, chunk uint32) error {
	f, err := os.OpenFile(s.path(kind, n), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return errors.NewStorageError("failed to open %s file %d", kind, n, err)
	}

	defer f.Close()

	end := offset + uint32(recordHeaderSize+len(data)+len(trailer))

	if err := preallocate(f, end, chunk); err != nil {
		return errors.NewStorageError("failed to allocate %s file %d", kind, n, err)
	}

	buf := make([]byte, 0, recordHeaderSize+len(data)+len(trailer))
	buf = append(buf, s.magic[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	buf = append(buf, trailer...)

	if _, err := f.WriteAt(buf, int64(offset)); err != nil {
		return errors.NewStorageError("failed to write %s file %d", kind, n, err)
	}

	return nil
}

// preallocate grows f to the next chunk boundary covering end.
func preallocate(f *os.File, end uint32, chunk uint32) error {
	st, err := f.Stat()
	if err != nil {
		return err
	}

	if st.Size() >= int64(end) {
		return nil
	}

	size := (int64(end) + int64(chunk) - 1) / int64(chunk) * int64(chunk)

	return f.Truncate(size)
}

// finalize trims the pre-allocated tail of a file pair and syncs it.
func (s *Store) finalize(n int32) error {
	fi := s.info[n]

	for _, k := range []struct {
		kind fileKind
		size uint32
	}{{kindBlock, fi.Size}, {kindUndo, fi.UndoSize}} {
		f, err := os.OpenFile(s.path(k.kind, n), os.O_RDWR, 0o600)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return errors.NewStorageError("failed to open %s file %d", k.kind, n, err)
		}

		if err = f.Truncate(int64(k.size)); err == nil {
			err = f.Sync()
		}

		_ = f.Close()

		if err != nil {
			return errors.NewStorageError("failed to finalize %s file %d", k.kind, n, err)
		}
	}

	return nil
}

// Flush syncs the current file pair to disk. With finalize set the
// pre-allocated tail is trimmed as well.
func (s *Store) Flush(finalize bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if finalize {
		return s.finalize(s.lastFile)
	}

	for _, kind := range []fileKind{kindBlock, kindUndo} {
		f, err := os.OpenFile(s.path(kind, s.lastFile), os.O_RDWR, 0o600)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return errors.NewStorageError("failed to open %s file %d", kind, s.lastFile, err)
		}

		err = f.Sync()
		_ = f.Close()

		if err != nil {
			return errors.NewStorageError("failed to sync %s file %d", kind, s.lastFile, err)
		}
	}

	return nil
}

// ReadBlockBytes reads the raw block stored at pos, checking its framing.
func (s *Store) ReadBlockBytes(pos Pos) ([]byte, error) {
	data, _, err := s.readRecord(kindBlock, pos, 0)

	return data, err
}

// ReadBlock reads and decodes the block stored at pos.
func (s *Store) ReadBlock(pos Pos) (*model.Block, error) {
	data, err := s.ReadBlockBytes(pos)
	if err != nil {
		return nil, err
	}

	block, err := model.NewBlockFromBytes(data)
	if err != nil {
		return nil, errors.NewCorruptionError("failed to decode block at %s", pos, err)
	}

	return block, nil
}

// ReadUndo reads the undo record at pos and verifies its checksum against
// blockHash.
func (s *Store) ReadUndo(pos Pos, blockHash chainhash.Hash) ([]byte, error) {
	data, trailer, err := s.readRecord(kindUndo, pos, chainhash.HashSize)
	if err != nil {
		return nil, err
	}

	checksum := undoChecksum(blockHash, data)
	if !bytes.Equal(checksum[:], trailer) {
		return nil, errors.NewCorruptionError("undo checksum mismatch at %s for block %s", pos, blockHash)
	}

	return data, nil
}

func (s *Store) readRecord(kind fileKind, pos Pos, trailerLen int) ([]byte, []byte, error) {
	if pos.IsNull() || pos.Offset < recordHeaderSize {
		return nil, nil, errors.NewInvalidArgumentError("invalid %s position %s", kind, pos)
	}

	f, err := os.Open(s.path(kind, pos.File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.NewCorruptionError("%s file %d missing", kind, pos.File, err)
		}

		return nil, nil, errors.NewStorageError("failed to open %s file %d", kind, pos.File, err)
	}

	defer f.Close()

	var header [recordHeaderSize]byte

	if _, err := f.ReadAt(header[:], int64(pos.Offset-recordHeaderSize)); err != nil {
		return nil, nil, errors.NewCorruptionError("failed to read %s record header at %s", kind, pos, err)
	}

	if !bytes.Equal(header[:4], s.magic[:]) {
		return nil, nil, errors.NewCorruptionError("bad magic in %s record at %s", kind, pos)
	}

	size := binary.LittleEndian.Uint32(header[4:])
	if size > maxRecordSize {
		return nil, nil, errors.NewCorruptionError("oversized %s record at %s: %d bytes", kind, pos, size)
	}

	buf := make([]byte, int(size)+trailerLen)

	if _, err := f.ReadAt(buf, int64(pos.Offset)); err != nil {
		return nil, nil, errors.NewCorruptionError("failed to read %s record at %s", kind, pos, err)
	}

	return buf[:size], buf[size:], nil
}

// Import scans every blk file in order and calls fn for each framed block,
// skipping garbage between records. It is used to rebuild the indexes.
func (s *Store) Import(fn func(pos Pos, block *model.Block) error) error {
	for n := int32(0); ; n++ {
		f, err := os.Open(s.path(kindBlock, n))
		if os.IsNotExist(err) {
			return nil
		} else if err != nil {
			return errors.NewStorageError("failed to open block file %d", n, err)
		}

		err = s.importFile(n, f, fn)
		_ = f.Close()

		if err != nil {
			return err
		}
	}
}

func (s *Store) importFile(n int32, f *os.File, fn func(pos Pos, block *model.Block) error) error {
	r := bufio.NewReaderSize(f, 1<<20)
	offset := uint32(0)
	window := make([]byte, 0, 4)

	for {
		c, err := r.ReadByte()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return errors.NewStorageError("failed reading block file %d", n, err)
		}

		offset++

		window = append(window, c)
		if len(window) > 4 {
			window = window[1:]
		}

		if len(window) < 4 || !bytes.Equal(window, s.magic[:]) {
			continue
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil
		}

		offset += 4
		size := binary.LittleEndian.Uint32(lenBuf[:])
		window = window[:0]

		if size < model.BlockHeaderLen || size > maxRecordSize {
			continue
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil
		}

		pos := Pos{File: n, Offset: offset}
		offset += size

		block, err := model.NewBlockFromBytes(data)
		if err != nil {
			s.logger.Warnf("[blockfile] skipping undecodable block at %s: %v", pos, err)
			continue
		}

		if err := fn(pos, block); err != nil {
			return err
		}
	}
}

func undoChecksum(blockHash chainhash.Hash, undo []byte) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize+len(undo))
	buf = append(buf, blockHash[:]...)
	buf = append(buf, undo...)

	return chainhash.DoubleHashH(buf)
}
