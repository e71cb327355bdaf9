package core

import (
	"strings"
)

// Record is one event handed to the store for insertion. Domain and Name
// select the stream; Category and Level are encoded in the file name; the
// remaining fields go into the record header and payload.
type Record struct {
	Domain   string
	Name     string
	Category Category
	Level    string
	Tag      string

	Seq       int64
	Timestamp int64 // milliseconds since the Unix epoch
	TZ        uint8
	UID       uint32
	PID       uint32
	TID       uint32
	HashID    uint64

	TraceOpened bool
	LogFlag     uint8

	Params Params
}

// Validate checks the fields that end up in paths and fixed-width headers.
func (r *Record) Validate() error {
	if r == nil {
		return ErrNullInput
	}
	if err := validatePathComponent("domain", r.Domain); err != nil {
		return err
	}
	if err := validatePathComponent("name", r.Name); err != nil {
		return err
	}
	if err := validatePathComponent("level", r.Level); err != nil {
		return err
	}
	if !r.Category.Valid() {
		return &ValidationError{Field: "category", Value: r.Category.String(), Message: "unknown category"}
	}
	if len(r.Tag) > MaxTagLen {
		return &ValidationError{Field: "tag", Value: r.Tag, Message: "tag longer than 17 bytes"}
	}
	if r.Seq < 0 {
		return &ValidationError{Field: "seq", Value: "negative", Message: "sequence must not be negative"}
	}
	return nil
}

func validatePathComponent(field, v string) error {
	switch {
	case v == "":
		return &ValidationError{Field: field, Value: v, Message: "must not be empty"}
	case strings.ContainsAny(v, `-/\`):
		return &ValidationError{Field: field, Value: v, Message: "must not contain '-' or path separators"}
	case strings.HasPrefix(v, "."):
		// Dot directories under the store root are staging areas.
		return &ValidationError{Field: field, Value: v, Message: "must not start with '.'"}
	}
	return nil
}

// FileHeader is the common, version-independent view of an event file header.
type FileHeader struct {
	Magic        uint64
	BlockSize    uint32 // header bytes following the magic number
	PageSize     uint8  // KiB; 0 means the file is one unbounded region
	Version      uint8
	Tag          string
	SysVersion   string // version >= 3
	PatchVersion string // version 4
}

// Size returns the on-disk length of the header.
func (h FileHeader) Size() int64 {
	return int64(h.BlockSize) + MagicSize
}

// PageBytes returns the page size in bytes.
func (h FileHeader) PageBytes() int64 {
	return int64(h.PageSize) * KiB
}

// RecordHeader holds the fixed fields that precede every record payload.
type RecordHeader struct {
	Size        uint32 // total encoded record length, size prefix and checksum included
	Seq         int64
	Timestamp   int64
	TZ          uint8
	UID         uint32
	PID         uint32
	TID         uint32
	HashID      uint64
	Type        uint8 // 2 bits
	TraceOpened bool
	LogFlag     uint8 // version >= 2
}

// HeaderOf extracts the record header fields of r.
func HeaderOf(r *Record) RecordHeader {
	return RecordHeader{
		Seq:         r.Seq,
		Timestamp:   r.Timestamp,
		TZ:          r.TZ,
		UID:         r.UID,
		PID:         r.PID,
		TID:         r.TID,
		HashID:      r.HashID,
		Type:        r.Category.TypeBits(),
		TraceOpened: r.TraceOpened,
		LogFlag:     r.LogFlag,
	}
}
