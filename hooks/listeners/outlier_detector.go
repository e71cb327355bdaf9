package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/nexusevent/hooks"
)

// Thresholds defines the min/max acceptable values for a parameter.
type Thresholds struct {
	Min float64
	Max float64
}

// OutlierRule names a numeric parameter of one event and its acceptable range.
type OutlierRule struct {
	Domain     string
	Name       string
	Param      string
	Thresholds Thresholds
}

type ruleKey struct{ domain, name string }

// OutlierDetectionListener warns about inserted events whose numeric
// parameters fall outside configured thresholds.
type OutlierDetectionListener struct {
	logger *slog.Logger
	rules  map[ruleKey]map[string]Thresholds
}

// NewOutlierDetectionListener creates a new listener for detecting outliers.
func NewOutlierDetectionListener(logger *slog.Logger, rules []OutlierRule) *OutlierDetectionListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ruleMap := make(map[ruleKey]map[string]Thresholds)
	for _, rule := range rules {
		k := ruleKey{rule.Domain, rule.Name}
		if _, ok := ruleMap[k]; !ok {
			ruleMap[k] = make(map[string]Thresholds)
		}
		ruleMap[k][rule.Param] = rule.Thresholds
	}
	return &OutlierDetectionListener{
		logger: logger.With("component", "OutlierDetectionListener"),
		rules:  ruleMap,
	}
}

// OnEvent handles PreInsert events. It never rejects the insert.
func (l *OutlierDetectionListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPreInsert {
		return nil
	}
	payload, ok := event.Payload().(hooks.PreInsertPayload)
	if !ok || payload.Record == nil {
		l.logger.Error("Received PreInsert event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	rec := payload.Record
	rules, ok := l.rules[ruleKey{rec.Domain, rec.Name}]
	if !ok {
		return nil
	}
	for param, thresholds := range rules {
		v, ok := rec.Params.Get(param)
		if !ok || !v.IsNumber() {
			continue
		}
		if f := v.AsFloat(); f < thresholds.Min || f > thresholds.Max {
			l.logger.Warn("Outlier detected",
				"domain", rec.Domain,
				"name", rec.Name,
				"param", param,
				"value", f,
				"min_threshold", thresholds.Min,
				"max_threshold", thresholds.Max,
			)
		}
	}
	return nil
}

func (l *OutlierDetectionListener) Priority() int { return 100 }

// IsAsync is ignored for pre hooks.
func (l *OutlierDetectionListener) IsAsync() bool { return false }
