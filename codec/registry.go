package codec

import (
	"fmt"
	"io"

	"github.com/INLOpen/nexusevent/core"
)

// Registry maps a version byte to its codec. It is built explicitly, once,
// by the owner of a store and is read-only afterwards.
type Registry struct {
	codecs  map[Version]*Codec
	current Version
}

// NewRegistry returns a registry holding every supported version, with
// Current as the version used for new files.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[Version]*Codec, len(Versions)), current: Current}
	for _, v := range Versions {
		c, err := New(v)
		if err != nil {
			panic(err) // Versions and layoutOf disagree
		}
		r.codecs[v] = c
	}
	return r
}

// Lookup returns the codec of a version byte.
func (r *Registry) Lookup(v uint8) (*Codec, error) {
	c, ok := r.codecs[Version(v)]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder registered for format version %d", core.ErrIO, v)
	}
	return c, nil
}

// Current returns the codec used to write new files.
func (r *Registry) Current() *Codec {
	return r.codecs[r.current]
}

// ReadFileHeader reads the version byte at its fixed offset, dispatches to
// the matching codec and decodes the full header.
func (r *Registry) ReadFileHeader(ra io.ReaderAt) (*Codec, core.FileHeader, error) {
	var vb [1]byte
	if _, err := ra.ReadAt(vb[:], core.VersionOffset); err != nil {
		return nil, core.FileHeader{}, fmt.Errorf("%w: reading format version: %v", core.ErrIO, err)
	}
	c, err := r.Lookup(vb[0])
	if err != nil {
		return nil, core.FileHeader{}, err
	}
	h, err := c.ReadFileHeader(io.NewSectionReader(ra, 0, maxFileHeaderSize))
	if err != nil {
		return nil, h, err
	}
	return c, h, nil
}

const maxFileHeaderSize = core.BaseFileHeaderSize + 2*(4+core.MaxVersionStringLen)
