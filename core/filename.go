package core

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// EventFileName is the metadata encoded in an event file name:
// <name>-<category>-<level>-<seq>.db
type EventFileName struct {
	Name     string
	Category Category
	Level    string
	Seq      int64
}

// String formats the file name.
func (f EventFileName) String() string {
	return fmt.Sprintf("%s-%d-%s-%d%s", NormalizeName(f.Name), uint8(f.Category), NormalizeName(f.Level), f.Seq, EventFileExt)
}

// FileNameFor returns the file name a stream creates for a record.
func FileNameFor(r *Record) EventFileName {
	return EventFileName{Name: r.Name, Category: r.Category, Level: r.Level, Seq: r.Seq}
}

// ParseEventFileName extracts the metadata from a base file name.
func ParseEventFileName(base string) (EventFileName, error) {
	if !strings.HasSuffix(base, EventFileExt) {
		return EventFileName{}, fmt.Errorf("file %s is not an event file", base)
	}
	parts := strings.Split(strings.TrimSuffix(base, EventFileExt), "-")
	if len(parts) != 4 || parts[0] == "" || parts[2] == "" {
		return EventFileName{}, fmt.Errorf("file %s: expected name-category-level-seq", base)
	}
	cat, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || !Category(cat).Valid() {
		return EventFileName{}, fmt.Errorf("file %s: invalid category %q", base, parts[1])
	}
	seq, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil || seq < 0 {
		return EventFileName{}, fmt.Errorf("file %s: invalid sequence %q", base, parts[3])
	}
	return EventFileName{Name: parts[0], Category: Category(cat), Level: parts[2], Seq: seq}, nil
}

// NormalizeName returns the NFC form of a domain, name or level so that the
// same stream always maps to the same path.
func NormalizeName(s string) string {
	return norm.NFC.String(s)
}

// DomainDir returns the directory holding every stream of a domain.
func DomainDir(root, domain string) string {
	return filepath.Join(root, NormalizeName(domain))
}
