package core

// StreamInfo is the context of a stream recovered from its file path.
type StreamInfo struct {
	Domain   string
	Name     string
	Category Category
	Level    string
	Tag      string
}

// Entry is one query result. Value is an owned copy of the record payload.
type Entry struct {
	Seq       int64
	Timestamp int64
	Value     []byte

	Header RecordHeader
	Stream StreamInfo
}

// QueryArgument selects candidate files before any file is opened.
type QueryArgument struct {
	Domain   string   // empty means every domain
	Names    []string // empty means every name
	Category Category // CategoryUnknown means every category
	BeginSeq int64    // inclusive
	EndSeq   int64    // exclusive; <= 0 means unbounded
}

// MatchName reports whether name passes the name filter.
func (a *QueryArgument) MatchName(name string) bool {
	if len(a.Names) == 0 {
		return true
	}
	for _, n := range a.Names {
		if n == name {
			return true
		}
	}
	return false
}

// ResultSet is an ordered, bounded query result.
type ResultSet struct {
	entries []Entry
	pos     int

	// HasMore is set when the scan stopped before exhausting the candidates.
	HasMore bool
	// Boundary is the sequence at which a follow-up query should resume.
	Boundary int64
	// FilesScanned counts the files opened by the scan.
	FilesScanned int
}

// NewResultSet wraps already ordered entries.
func NewResultSet(entries []Entry) *ResultSet {
	return &ResultSet{entries: entries}
}

func (rs *ResultSet) HasNext() bool {
	return rs != nil && rs.pos < len(rs.entries)
}

// Next returns the next entry. It must only be called after HasNext reported true.
func (rs *ResultSet) Next() Entry {
	e := rs.entries[rs.pos]
	rs.pos++
	return e
}

func (rs *ResultSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.entries)
}

// Entries returns every entry regardless of the iteration position.
func (rs *ResultSet) Entries() []Entry {
	if rs == nil {
		return nil
	}
	return rs.entries
}
