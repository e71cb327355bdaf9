package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/INLOpen/nexusevent/core"
	"golang.org/x/sync/errgroup"
)

// maxListWorkers bounds the domain directories listed in parallel.
const maxListWorkers = 8

// eventFile is one event file found on disk.
type eventFile struct {
	path    string
	domain  string
	meta    core.EventFileName
	size    int64
	modTime time.Time
	// nextSeq is the first sequence of the stream's following file, or -1
	// for the newest file. The file holds sequences in [meta.Seq, nextSeq).
	nextSeq int64
}

func (f *eventFile) streamKey() string { return f.domain + "/" + f.meta.Name }

// domains returns the domain directories to look at. An empty filter
// selects every directory under the root.
func (s *Store) domains(domain string) ([]string, error) {
	if domain != "" {
		dir := core.DomainDir(s.opts.Dir, domain)
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			return nil, nil
		}
		return []string{core.NormalizeName(domain)}, nil
	}
	entries, err := os.ReadDir(s.opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", core.ErrIO, s.opts.Dir, err)
	}
	var out []string
	for _, e := range entries {
		// Dot directories hold restore staging data.
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// listFiles returns the event files of the selected domains, with the
// sequence bounds of every file filled in.
func (s *Store) listFiles(ctx context.Context, domain string) ([]*eventFile, error) {
	domains, err := s.domains(domain)
	if err != nil || len(domains) == 0 {
		return nil, err
	}

	perDomain := make([][]*eventFile, len(domains))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(maxListWorkers)
	for i, d := range domains {
		g.Go(func() error {
			files, err := s.listDomain(d)
			perDomain[i] = files
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []*eventFile
	for _, files := range perDomain {
		all = append(all, files...)
	}
	fillSeqBounds(all)
	return all, nil
}

func (s *Store) listDomain(domain string) ([]*eventFile, error) {
	dir := filepath.Join(s.opts.Dir, domain)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: listing %s: %v", core.ErrIO, dir, err)
	}
	var files []*eventFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		meta, err := core.ParseEventFileName(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed since the listing.
			continue
		}
		files = append(files, &eventFile{
			path:    filepath.Join(dir, e.Name()),
			domain:  domain,
			meta:    meta,
			size:    info.Size(),
			modTime: info.ModTime(),
		})
	}
	return files, nil
}

// fillSeqBounds sets nextSeq from the following file of the same stream.
// Files sharing a start sequence are bounded by the next larger one.
func fillSeqBounds(files []*eventFile) {
	byStream := make(map[string][]*eventFile)
	for _, f := range files {
		byStream[f.streamKey()] = append(byStream[f.streamKey()], f)
	}
	for _, group := range byStream {
		sort.Slice(group, func(i, j int) bool { return group[i].meta.Seq < group[j].meta.Seq })
		for i, f := range group {
			f.nextSeq = -1
			for _, next := range group[i+1:] {
				if next.meta.Seq > f.meta.Seq {
					f.nextSeq = next.meta.Seq
					break
				}
			}
		}
	}
}

// maxSeq returns the largest sequence the file can hold, or -1 when it is
// unbounded.
func (f *eventFile) maxSeq() int64 {
	if f.nextSeq < 0 {
		return -1
	}
	return f.nextSeq - 1
}
