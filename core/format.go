package core

// This file centralizes constants related to the event file format, magic
// numbers and the well-known file names inside a store directory.

// --- Magic Numbers ---
const (
	// MagicNumberV1 identifies files written by the first format epoch (versions 1 and 2).
	MagicNumberV1 uint64 = 0x894556454E541A0A
	// MagicNumberV3 identifies files written by the second format epoch (versions 3 and 4).
	// It differs from MagicNumberV1 only in the low bit of the last byte.
	MagicNumberV3 uint64 = 0x894556454E541A0B

	// SequenceMagicNumber identifies the persisted sequence marker file.
	SequenceMagicNumber uint32 = 0x51455645 // "EVEQ"
)

// --- Header layout ---
const (
	MagicSize     = 8
	BlockSizeSize = 4
	PageSizeSize  = 1
	VersionSize   = 1
	// MaxTagLen is the fixed width of the tag field in the file header.
	MaxTagLen = 17

	// VersionOffset is the byte offset of the version field in every file header.
	VersionOffset = MagicSize + BlockSizeSize + PageSizeSize
	// BaseFileHeaderSize is the size of the fields shared by every format version.
	BaseFileHeaderSize = MagicSize + BlockSizeSize + PageSizeSize + VersionSize + MaxTagLen

	// MaxVersionStringLen bounds the embedded system/patch version strings.
	MaxVersionStringLen = 128

	SizePrefixSize = 4
	ChecksumSize   = 4

	// MaxRecordSize is the hard upper bound of one encoded record.
	MaxRecordSize = 386 * 1024

	// KiB is the unit of the page size stored in file headers.
	KiB = 1024
	MiB = 1024 * KiB
)

// --- File Names ---
const (
	// EventFileExt is the extension of every event data file.
	EventFileExt = ".db"
	// SequenceFileName is the name of the sequence marker in the store directory.
	SequenceFileName = "event_sequence"
	// RunningStatusLogName is the query admission log inside the store directory.
	RunningStatusLogName = "running_status.log"
	// RepeatDBName is the sqlite database used by duplicate detection.
	RepeatDBName = "event_history.db"
)
