package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/INLOpen/nexusevent/backup"
	"github.com/INLOpen/nexusevent/cond"
	"github.com/INLOpen/nexusevent/core"
	"github.com/INLOpen/nexusevent/query"
	"github.com/spf13/cobra"
)

// parseParam parses KEY=VALUE. Numeric values are stored as numbers.
func parseParam(s string) (core.Param, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return core.Param{}, fmt.Errorf("invalid parameter %q: want KEY=VALUE", s)
	}
	return core.Param{Key: key, Value: cond.ParseValue(raw)}, nil
}

type insertOptions struct {
	Domain      string
	Name        string
	Category    string
	Level       string
	Tag         string
	PID         uint32
	UID         uint32
	TID         uint32
	Params      []string
	CheckRepeat bool
}

func newInsertCommand(root *rootOptions) *cobra.Command {
	opts := &insertOptions{}
	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Append one event",
		Example: `  eventstore insert --domain KERNEL --name PANIC --category FAULT --level CRITICAL \
    --param MSG="null deref" --param CODE=11`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := core.ParseCategory(opts.Category)
			if err != nil {
				return err
			}
			rec := &core.Record{
				Domain:   opts.Domain,
				Name:     opts.Name,
				Category: c,
				Level:    opts.Level,
				Tag:      opts.Tag,
				PID:      opts.PID,
				UID:      opts.UID,
				TID:      opts.TID,
			}
			for _, s := range opts.Params {
				p, err := parseParam(s)
				if err != nil {
					return err
				}
				rec.Params = append(rec.Params, p)
			}

			e, err := openEnv(cmd, root)
			if err != nil {
				return err
			}
			defer e.Close()

			repeated := false
			if opts.CheckRepeat {
				if repeated, err = e.svc.CheckRepeat(cmd.Context(), rec); err != nil {
					return err
				}
			}
			if err := e.svc.Insert(cmd.Context(), rec); err != nil {
				return err
			}
			return printValue(e, map[string]any{"seq": rec.Seq, "repeat": repeated, "log_flag": rec.LogFlag})
		},
	}
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "event domain (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "event name (required)")
	cmd.Flags().StringVar(&opts.Category, "category", "FAULT", "FAULT, STATISTIC, SECURITY or BEHAVIOR")
	cmd.Flags().StringVar(&opts.Level, "level", "MINOR", "event level")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "stream tag")
	cmd.Flags().Uint32Var(&opts.PID, "pid", 0, "reporting process id")
	cmd.Flags().Uint32Var(&opts.UID, "uid", 0, "reporting user id")
	cmd.Flags().Uint32Var(&opts.TID, "tid", 0, "reporting thread id")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "payload parameter KEY=VALUE, repeatable")
	cmd.Flags().BoolVar(&opts.CheckRepeat, "check-repeat", true, "run fault repeat detection before inserting")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// queryFlags are shared by query and export.
type queryFlags struct {
	Domain   string
	Names    []string
	Category string
	Where    []string
	Begin    int64
	End      int64
	Limit    int
	Order    string
	OrderBy  string
	External bool
	PID      uint32
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Domain, "domain", "", "restrict to one domain")
	cmd.Flags().StringSliceVar(&f.Names, "name", nil, "restrict to event names, repeatable")
	cmd.Flags().StringVar(&f.Category, "category", "", "restrict to one category")
	cmd.Flags().StringArrayVarP(&f.Where, "where", "w", nil, `condition such as "pid_>=100" or "MSG SW boot", repeatable`)
	cmd.Flags().Int64Var(&f.Begin, "begin", 0, "first sequence (inclusive)")
	cmd.Flags().Int64Var(&f.End, "end", 0, "last sequence (exclusive), 0 for none")
	cmd.Flags().IntVarP(&f.Limit, "limit", "n", 0, "maximum results, 0 for the class limit")
	cmd.Flags().StringVar(&f.Order, "order", "desc", "asc or desc")
	cmd.Flags().StringVar(&f.OrderBy, "order-by", "seq", "seq or time")
	cmd.Flags().BoolVar(&f.External, "external", false, "apply the external query limits")
	cmd.Flags().Uint32Var(&f.PID, "caller-pid", 0, "process the query runs for; enables the frequency check")
}

func (f *queryFlags) build() (*query.Query, error) {
	q := query.New(f.Domain, f.Names...).Range(f.Begin, f.End)
	if f.Category != "" {
		c, err := core.ParseCategory(f.Category)
		if err != nil {
			return nil, err
		}
		q.Argument.Category = c
	}
	for _, w := range f.Where {
		c, err := cond.ParseLeaf(w)
		if err != nil {
			return nil, err
		}
		q.Where(c)
	}
	switch strings.ToLower(f.Order) {
	case "desc":
		q.Order = core.Descending
	case "asc":
		q.Order = core.Ascending
	default:
		return nil, fmt.Errorf("invalid order %q", f.Order)
	}
	switch strings.ToLower(f.OrderBy) {
	case "seq":
		q.OrderBy = core.OrderBySeq
	case "time":
		q.OrderBy = core.OrderByTime
	default:
		return nil, fmt.Errorf("invalid order-by %q", f.OrderBy)
	}
	q.Limit = f.Limit
	if f.External {
		q.Kind = query.External
	}
	if f.PID != 0 {
		q.Caller = query.Caller{PID: f.PID}
		q.FrequencyCheck = true
	}
	return q, nil
}

func statusLogger(e *env) query.Callback {
	return func(s query.Status) {
		if s != query.StatusSucceed {
			e.logger.Warn("Query admission status.", "status", s.String())
		}
	}
}

func newQueryCommand(root *rootOptions) *cobra.Command {
	flags := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query events",
		Example: `  eventstore query --domain KERNEL --name PANIC -w "pid_>=100" -n 20
  eventstore query --domain POWER --order asc --begin 1000 --end 2000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := flags.build()
			if err != nil {
				return err
			}
			e, err := openEnv(cmd, root)
			if err != nil {
				return err
			}
			defer e.Close()
			rs, err := e.svc.Query(cmd.Context(), q, statusLogger(e))
			if err != nil {
				return err
			}
			return printEntries(e, rs)
		},
	}
	flags.register(cmd)
	return cmd
}

func newExportCommand(root *rootOptions) *cobra.Command {
	flags := &queryFlags{}
	var out, compression string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write query results to a parquet file",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := flags.build()
			if err != nil {
				return err
			}
			e, err := openEnv(cmd, root)
			if err != nil {
				return err
			}
			defer e.Close()
			n, err := e.svc.Export(cmd.Context(), q, out, core.ParseCompressionType(compression))
			if err != nil {
				return err
			}
			return printValue(e, map[string]any{"path": out, "rows": n})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "parquet file to write (required)")
	cmd.Flags().StringVar(&compression, "compression", "zstd", "none, snappy, lz4 or zstd")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newBackupCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Archive the store into the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, root)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.svc.Backup(cmd.Context()); err != nil {
				return err
			}
			return printValue(e, map[string]any{"status": "ok"})
		},
	}
}

func newRestoreCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Restore an empty store from the backup archive",
		Long: `Restore an empty store from the backup archive.

Opening a store without a sequence marker already restores it, so this
command reports "skipped" unless the marker was removed while running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, root)
			if err != nil {
				return err
			}
			defer e.Close()
			err = e.svc.Restore(cmd.Context())
			if errors.Is(err, backup.ErrSkipped) {
				return printValue(e, map[string]any{"status": "skipped"})
			}
			if err != nil {
				return err
			}
			return printValue(e, map[string]any{"status": "ok"})
		},
	}
}

func newEvictCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Delete expired files and files over quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, root)
			if err != nil {
				return err
			}
			defer e.Close()
			res, err := e.svc.Evict(cmd.Context())
			if err != nil {
				return err
			}
			return printValue(e, map[string]any{
				"expired_files": res.ExpiredFiles,
				"deleted_files": res.DeletedFiles,
				"freed_bytes":   res.FreedBytes,
				"failed_files":  res.FailedFiles,
			})
		},
	}
}

func newClearCommand(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every event file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear the store without --yes")
			}
			e, err := openEnv(cmd, root)
			if err != nil {
				return err
			}
			defer e.Close()
			n, err := e.svc.Clear(cmd.Context())
			if err != nil {
				return err
			}
			return printValue(e, map[string]any{"deleted_files": n})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func newStatsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-category usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd, root)
			if err != nil {
				return err
			}
			defer e.Close()
			st, err := e.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			v := map[string]any{
				"sequence":          st.Sequence,
				"total_files":       st.Store.TotalFiles,
				"total_bytes":       st.Store.TotalBytes,
				"disk_free_bytes":   st.Store.DiskFreeBytes,
				"disk_used_percent": st.Store.DiskUsedPercent,
				"repeat_history":    st.RepeatHistory,
			}
			for c, cs := range st.Store.Categories {
				prefix := strings.ToLower(c.String())
				v[prefix+"_files"] = cs.Files
				v[prefix+"_bytes"] = cs.Bytes
				v[prefix+"_max_bytes"] = cs.MaxBytes
			}
			return printValue(e, v)
		},
	}
}
