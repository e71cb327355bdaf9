package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/nexusevent/core"
)

// Version is the on-disk format version stored in every file header.
type Version uint8

const (
	V1 Version = 1
	V2 Version = 2 // adds the log flag byte to record headers
	V3 Version = 3 // new magic epoch, embeds the system version in file headers
	V4 Version = 4 // embeds the patch version in file headers

	Current = V4
)

// Versions lists every supported version, oldest first.
var Versions = []Version{V1, V2, V3, V4}

func (v Version) String() string { return fmt.Sprintf("v%d", uint8(v)) }

// layout describes how one version differs from the others.
type layout struct {
	magic         uint64
	hasLogFlag    bool
	hasSysVersion bool
	hasPatch      bool
}

func layoutOf(v Version) (layout, bool) {
	switch v {
	case V1:
		return layout{magic: core.MagicNumberV1}, true
	case V2:
		return layout{magic: core.MagicNumberV1, hasLogFlag: true}, true
	case V3:
		return layout{magic: core.MagicNumberV3, hasLogFlag: true, hasSysVersion: true}, true
	case V4:
		return layout{magic: core.MagicNumberV3, hasLogFlag: true, hasSysVersion: true, hasPatch: true}, true
	}
	return layout{}, false
}

// Record header field offsets, relative to the start of the record.
const (
	offSeq    = core.SizePrefixSize
	offTime   = offSeq + 8
	offTZ     = offTime + 8
	offUID    = offTZ + 1
	offPID    = offUID + 4
	offTID    = offPID + 4
	offHash   = offTID + 4
	offFlags  = offHash + 8
	offLogFlg = offFlags + 1

	baseRecordHeaderSize = offLogFlg

	flagTypeMask  = 0x03
	flagTraceBit  = 0x04
	maxFlagsValue = flagTypeMask | flagTraceBit
)

// Codec encodes and decodes the file and record headers of one version.
type Codec struct {
	version Version
	l       layout
}

// New returns the codec of v.
func New(v Version) (*Codec, error) {
	l, ok := layoutOf(v)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format version %d", core.ErrInvalidFormat, uint8(v))
	}
	return &Codec{version: v, l: l}, nil
}

func (c *Codec) Version() Version { return c.version }

// Magic returns the magic number written by this version.
func (c *Codec) Magic() uint64 { return c.l.magic }

// ValidMagic reports whether magic belongs to this version's epoch.
func (c *Codec) ValidMagic(magic uint64) bool { return magic == c.l.magic }

// HasSysVersion reports whether file headers embed the system version.
func (c *Codec) HasSysVersion() bool { return c.l.hasSysVersion }

// RecordHeaderSize is the exact size of a record header, size prefix included.
func (c *Codec) RecordHeaderSize() int {
	if c.l.hasLogFlag {
		return baseRecordHeaderSize + 1
	}
	return baseRecordHeaderSize
}

// MinRecordSize is the smallest valid encoded record: a header, no payload
// and the checksum field.
func (c *Codec) MinRecordSize() int {
	return c.RecordHeaderSize() + core.ChecksumSize
}

// FileHeaderSize returns the encoded size of h under this version.
func (c *Codec) FileHeaderSize(h core.FileHeader) int {
	n := core.BaseFileHeaderSize
	if c.l.hasSysVersion {
		n += 4 + len(h.SysVersion)
	}
	if c.l.hasPatch {
		n += 4 + len(h.PatchVersion)
	}
	return n
}

// AppendFileHeader appends the encoded header to dst. Magic, Version and
// BlockSize are filled in by the codec.
func (c *Codec) AppendFileHeader(dst []byte, h core.FileHeader) ([]byte, error) {
	if len(h.Tag) > core.MaxTagLen {
		return dst, fmt.Errorf("%w: tag %q exceeds %d bytes", core.ErrInvalidFormat, h.Tag, core.MaxTagLen)
	}
	if len(h.SysVersion) > core.MaxVersionStringLen || len(h.PatchVersion) > core.MaxVersionStringLen {
		return dst, fmt.Errorf("%w: version string exceeds %d bytes", core.ErrInvalidFormat, core.MaxVersionStringLen)
	}
	size := c.FileHeaderSize(h)
	dst = binary.LittleEndian.AppendUint64(dst, c.l.magic)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(size-core.MagicSize))
	dst = append(dst, h.PageSize, uint8(c.version))
	var tag [core.MaxTagLen]byte
	copy(tag[:], h.Tag)
	dst = append(dst, tag[:]...)
	if c.l.hasSysVersion {
		dst = appendString(dst, h.SysVersion)
	}
	if c.l.hasPatch {
		dst = appendString(dst, h.PatchVersion)
	}
	return dst, nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// ReadFileHeader decodes a file header from the start of r.
func (c *Codec) ReadFileHeader(r io.Reader) (core.FileHeader, error) {
	var base [core.BaseFileHeaderSize]byte
	if _, err := io.ReadFull(r, base[:]); err != nil {
		return core.FileHeader{}, fmt.Errorf("%w: reading file header: %v", core.ErrIO, err)
	}
	h := core.FileHeader{
		Magic:     binary.LittleEndian.Uint64(base[0:8]),
		BlockSize: binary.LittleEndian.Uint32(base[8:12]),
		PageSize:  base[12],
		Version:   base[13],
		Tag:       trimTag(base[14:]),
	}
	if !c.ValidMagic(h.Magic) {
		return h, fmt.Errorf("%w: bad magic %#x for %s", core.ErrInvalidFormat, h.Magic, c.version)
	}
	if Version(h.Version) != c.version {
		return h, fmt.Errorf("%w: header version %d read by %s codec", core.ErrInvalidFormat, h.Version, c.version)
	}
	var err error
	if c.l.hasSysVersion {
		if h.SysVersion, err = readString(r); err != nil {
			return h, err
		}
	}
	if c.l.hasPatch {
		if h.PatchVersion, err = readString(r); err != nil {
			return h, err
		}
	}
	if int(h.BlockSize)+core.MagicSize < c.FileHeaderSize(h) {
		return h, fmt.Errorf("%w: block size %d shorter than header", core.ErrInvalidFormat, h.BlockSize)
	}
	return h, nil
}

func trimTag(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func readString(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", fmt.Errorf("%w: reading version length: %v", core.ErrIO, err)
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > core.MaxVersionStringLen {
		return "", fmt.Errorf("%w: version string length %d", core.ErrInvalidFormat, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: reading version string: %v", core.ErrIO, err)
	}
	return string(buf), nil
}

// AppendRecord appends one encoded record (size prefix, header, payload and a
// zero checksum) to dst.
func (c *Codec) AppendRecord(dst []byte, h core.RecordHeader, payload []byte) ([]byte, error) {
	total := c.RecordHeaderSize() + len(payload) + core.ChecksumSize
	if total > core.MaxRecordSize {
		return dst, fmt.Errorf("%w: record of %d bytes exceeds %d", core.ErrTooLarge, total, core.MaxRecordSize)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(total))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.Seq))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.Timestamp))
	dst = append(dst, h.TZ)
	dst = binary.LittleEndian.AppendUint32(dst, h.UID)
	dst = binary.LittleEndian.AppendUint32(dst, h.PID)
	dst = binary.LittleEndian.AppendUint32(dst, h.TID)
	dst = binary.LittleEndian.AppendUint64(dst, h.HashID)
	flags := h.Type & flagTypeMask
	if h.TraceOpened {
		flags |= flagTraceBit
	}
	dst = append(dst, flags)
	if c.l.hasLogFlag {
		dst = append(dst, h.LogFlag)
	}
	dst = append(dst, payload...)
	return binary.LittleEndian.AppendUint32(dst, 0), nil
}

// ReadRecordHeader decodes the fixed fields at the start of b. b must hold at
// least RecordHeaderSize bytes.
func (c *Codec) ReadRecordHeader(b []byte) (core.RecordHeader, error) {
	if len(b) < c.RecordHeaderSize() {
		return core.RecordHeader{}, fmt.Errorf("%w: record header needs %d bytes, have %d", core.ErrInvalidFormat, c.RecordHeaderSize(), len(b))
	}
	flags := b[offFlags]
	if flags > maxFlagsValue {
		return core.RecordHeader{}, fmt.Errorf("%w: record flags %#x", core.ErrInvalidFormat, flags)
	}
	h := core.RecordHeader{
		Size:        binary.LittleEndian.Uint32(b[0:offSeq]),
		Seq:         int64(binary.LittleEndian.Uint64(b[offSeq:offTime])),
		Timestamp:   int64(binary.LittleEndian.Uint64(b[offTime:offTZ])),
		TZ:          b[offTZ],
		UID:         binary.LittleEndian.Uint32(b[offUID:offPID]),
		PID:         binary.LittleEndian.Uint32(b[offPID:offTID]),
		TID:         binary.LittleEndian.Uint32(b[offTID:offHash]),
		HashID:      binary.LittleEndian.Uint64(b[offHash:offFlags]),
		Type:        flags & flagTypeMask,
		TraceOpened: flags&flagTraceBit != 0,
	}
	if c.l.hasLogFlag {
		h.LogFlag = b[offLogFlg]
	}
	return h, nil
}

// Payload returns the payload slice of an encoded record held in b.
func (c *Codec) Payload(b []byte, h core.RecordHeader) ([]byte, error) {
	end := int(h.Size) - core.ChecksumSize
	start := c.RecordHeaderSize()
	if end < start || int(h.Size) > len(b) {
		return nil, fmt.Errorf("%w: record size %d does not fit buffer of %d", core.ErrInvalidFormat, h.Size, len(b))
	}
	return b[start:end], nil
}
