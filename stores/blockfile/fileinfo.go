package blockfile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tessacoin/tessanode/errors"
	"github.com/tessacoin/tessanode/util"
)

// FileInfo summarises the content of one blkNNNNN.dat / revNNNNN.dat pair.
type FileInfo struct {
	Blocks      uint32 // number of blocks stored in the file
	Size        uint32 // number of used bytes of the block file
	UndoSize    uint32 // number of used bytes of the undo file
	HeightFirst uint32 // lowest height of a block in the file
	HeightLast  uint32 // highest height of a block in the file
	TimeFirst   uint64 // earliest block time in the file
	TimeLast    uint64 // latest block time in the file
}

// AddBlock updates the statistics for a block appended to the file.
func (fi *FileInfo) AddBlock(height uint32, blockTime uint64) {
	if fi.Blocks == 0 || fi.HeightFirst > height {
		fi.HeightFirst = height
	}

	if fi.Blocks == 0 || fi.TimeFirst > blockTime {
		fi.TimeFirst = blockTime
	}

	fi.Blocks++

	if height > fi.HeightLast {
		fi.HeightLast = height
	}

	if blockTime > fi.TimeLast {
		fi.TimeLast = blockTime
	}
}

func (fi *FileInfo) String() string {
	return fmt.Sprintf("FileInfo(blocks=%d, size=%d, heights=%d...%d, time=%d...%d)",
		fi.Blocks, fi.Size, fi.HeightFirst, fi.HeightLast, fi.TimeFirst, fi.TimeLast)
}

// Bytes encodes the info with canonical varints.
func (fi *FileInfo) Bytes() []byte {
	b := make([]byte, 0, 32)

	for _, v := range []uint64{
		uint64(fi.Blocks), uint64(fi.Size), uint64(fi.UndoSize),
		uint64(fi.HeightFirst), uint64(fi.HeightLast), fi.TimeFirst, fi.TimeLast,
	} {
		b = util.AppendVarInt(b, v)
	}

	return b
}

func NewFileInfoFromBytes(b []byte) (*FileInfo, error) {
	r := bytes.NewReader(b)

	var values [7]uint64

	for i := range values {
		v, err := util.ReadVarInt(r)
		if err != nil {
			return nil, errors.NewCorruptionError("invalid block file info", err)
		}

		values[i] = v
	}

	if r.Len() != 0 {
		return nil, errors.NewCorruptionError("invalid block file info: %d trailing bytes", r.Len())
	}

	for i := 0; i < 5; i++ {
		if values[i] > 0xffffffff {
			return nil, errors.NewCorruptionError("invalid block file info: field %d out of range", i)
		}
	}

	return &FileInfo{
		Blocks:      uint32(values[0]),
		Size:        uint32(values[1]),
		UndoSize:    uint32(values[2]),
		HeightFirst: uint32(values[3]),
		HeightLast:  uint32(values[4]),
		TimeFirst:   values[5],
		TimeLast:    values[6],
	}, nil
}

// Pos locates a record inside a block or undo file. Offset points at the
// record payload, just past the magic and length prefix.
type Pos struct {
	File   int32
	Offset uint32
}

// NullPos is the position of a record that has not been stored.
var NullPos = Pos{File: -1}

func (p Pos) IsNull() bool {
	return p.File < 0
}

func (p Pos) String() string {
	return fmt.Sprintf("Pos(file=%d, offset=%d)", p.File, p.Offset)
}

// WriteTo encodes the position as two varints.
func (p Pos) WriteTo(w io.Writer) (int64, error) {
	b := util.AppendVarInt(nil, uint64(uint32(p.File)))
	b = util.AppendVarInt(b, uint64(p.Offset))

	n, err := w.Write(b)

	return int64(n), err
}

func ReadPos(r io.Reader) (Pos, error) {
	file, err := util.ReadVarInt(r)
	if err != nil {
		return NullPos, err
	}

	offset, err := util.ReadVarInt(r)
	if err != nil {
		return NullPos, err
	}

	if file > 0x7fffffff || offset > 0xffffffff {
		return NullPos, errors.NewCorruptionError("disk position out of range")
	}

	return Pos{File: int32(file), Offset: uint32(offset)}, nil
}
