package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Category is the event category. Quotas are configured per category and the
// numeric code is part of every event file name.
type Category uint8

const (
	CategoryUnknown   Category = 0
	CategoryFault     Category = 1
	CategoryStatistic Category = 2
	CategorySecurity  Category = 3
	CategoryBehavior  Category = 4
)

// Categories lists every valid category in code order.
var Categories = []Category{CategoryFault, CategoryStatistic, CategorySecurity, CategoryBehavior}

func (c Category) String() string {
	switch c {
	case CategoryFault:
		return "FAULT"
	case CategoryStatistic:
		return "STATISTIC"
	case CategorySecurity:
		return "SECURITY"
	case CategoryBehavior:
		return "BEHAVIOR"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	return c >= CategoryFault && c <= CategoryBehavior
}

// TypeBits returns the 2-bit type code stored in record headers.
func (c Category) TypeBits() uint8 {
	if !c.Valid() {
		return 0
	}
	return uint8(c-1) & 0x3
}

// CategoryFromTypeBits is the inverse of TypeBits.
func CategoryFromTypeBits(bits uint8) Category {
	return Category(bits&0x3) + 1
}

// ParseCategory accepts either the category name ("FAULT") or its numeric code ("1").
func ParseCategory(s string) (Category, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FAULT":
		return CategoryFault, nil
	case "STATISTIC":
		return CategoryStatistic, nil
	case "SECURITY":
		return CategorySecurity, nil
	case "BEHAVIOR":
		return CategoryBehavior, nil
	}
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil || !Category(n).Valid() {
		return CategoryUnknown, fmt.Errorf("unknown event category %q", s)
	}
	return Category(n), nil
}

// WriteStatus is the control signal returned by a record writer.
type WriteStatus int

const (
	WriteSuccess WriteStatus = iota
	WriteNeedsNewFile
	WriteError
)

func (s WriteStatus) String() string {
	switch s {
	case WriteSuccess:
		return "success"
	case WriteNeedsNewFile:
		return "needs_new_file"
	default:
		return "error"
	}
}

// SortOrder defines the sorting order for query results.
type SortOrder int

const (
	Descending SortOrder = iota
	Ascending
)

// OrderColumn selects the key query results are ordered by.
type OrderColumn int

const (
	OrderBySeq OrderColumn = iota
	OrderByTime
)

// CompressionType identifies the compression applied to a backup archive.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompressionType maps a configuration string to a CompressionType.
// Unknown values fall back to zstd.
func ParseCompressionType(s string) CompressionType {
	switch strings.ToLower(s) {
	case "none":
		return CompressionNone
	case "snappy":
		return CompressionSnappy
	case "lz4":
		return CompressionLZ4
	default:
		return CompressionZSTD
	}
}

// Log flags carried in RecordHeader.LogFlag. The pack bit tells uploaders
// whether the attached logs of a fault may be collected.
const (
	LogAllowPack    uint8 = 0x00
	LogNotAllowPack uint8 = 0x20
	LogPacked       uint8 = 0x01
	LogRepeat       uint8 = 0x02
)
