package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/INLOpen/nexusevent/codec"
	"github.com/INLOpen/nexusevent/core"
	"golang.org/x/term"
)

// resolveFormat turns "auto" into "text" on a terminal and "json" otherwise.
func resolveFormat(format string, out io.Writer) string {
	if format != "auto" {
		return format
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}

// printEntries writes one JSON object per line, or a table.
func printEntries(e *env, rs *core.ResultSet) error {
	if e.format == "json" {
		for rs.HasNext() {
			b, err := codec.EntryJSON(rs.Next())
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(e.out, "%s\n", b); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tDOMAIN\tNAME\tLEVEL\tPARAMS")
	for rs.HasNext() {
		entry := rs.Next()
		params, err := codec.DecodeParams(entry.Value)
		if err != nil {
			return err
		}
		kv := make([]string, 0, len(params))
		for _, p := range params {
			kv = append(kv, p.Key+"="+p.Value.String())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			entry.Seq,
			time.UnixMilli(entry.Timestamp).UTC().Format(time.RFC3339Nano),
			entry.Stream.Domain, entry.Stream.Name, entry.Stream.Level,
			strings.Join(kv, " "))
	}
	if rs.HasMore {
		fmt.Fprintf(tw, "-- more results, resume at seq %d\n", rs.Boundary)
	}
	return tw.Flush()
}

// printValue writes v as indented JSON, or as sorted key/value lines.
func printValue(e *env, v map[string]any) error {
	if e.format == "json" {
		enc := json.NewEncoder(e.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%v\n", k, v[k])
	}
	return tw.Flush()
}
