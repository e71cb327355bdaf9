package codec

import (
	"fmt"

	"github.com/INLOpen/nexusevent/core"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Reserved columns added to every rendered event.
const (
	ColDomain = "domain_"
	ColName   = "name_"
	ColType   = "type_"
	ColTime   = "time_"
	ColTZ     = "tz_"
	ColPID    = "pid_"
	ColTID    = "tid_"
	ColUID    = "uid_"
	ColSeq    = "seq_"
	ColLevel  = "level_"
	ColTag    = "tag_"
	ColHash   = "id_"
	ColTrace  = "trace_opened_"
	ColLog    = "log_"
)

// EntryFields flattens an entry and its decoded payload into a map. Payload
// parameters never override the reserved columns.
func EntryFields(e core.Entry) (map[string]any, error) {
	params, err := DecodeParams(e.Value)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(params)+14)
	for _, p := range params {
		fields[p.Key] = p.Value.Interface()
	}
	fields[ColDomain] = e.Stream.Domain
	fields[ColName] = e.Stream.Name
	fields[ColType] = int64(core.CategoryFromTypeBits(e.Header.Type))
	fields[ColTime] = e.Timestamp
	fields[ColTZ] = int64(e.Header.TZ)
	fields[ColPID] = int64(e.Header.PID)
	fields[ColTID] = int64(e.Header.TID)
	fields[ColUID] = int64(e.Header.UID)
	fields[ColSeq] = e.Seq
	fields[ColLevel] = e.Stream.Level
	fields[ColTag] = e.Stream.Tag
	fields[ColHash] = fmt.Sprintf("%016x", e.Header.HashID)
	fields[ColTrace] = e.Header.TraceOpened
	fields[ColLog] = int64(e.Header.LogFlag)
	return fields, nil
}

// EntryJSON renders an entry as a JSON object.
func EntryJSON(e core.Entry) ([]byte, error) {
	fields, err := EntryFields(e)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("building event struct: %w", err)
	}
	return protojson.Marshal(s)
}
