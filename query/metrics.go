package query

import (
	"expvar"
	"fmt"
)

// Metrics holds the expvar counters of one Admission.
type Metrics struct {
	PublishedGlobally bool

	AdmittedTotal *expvar.Int
	RejectedTotal *expvar.Int
	WarningsTotal *expvar.Int
	// Rejections counts rejections and warnings per status name.
	Rejections *expvar.Map
	Running    *expvar.Int
}

// NewMetrics creates the counters. When publishGlobally is set they are
// registered in the expvar namespace under prefix.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newInt := func(_ string) *expvar.Int { return new(expvar.Int) }
	newMap := func(_ string) *expvar.Map { return new(expvar.Map).Init() }
	if publishGlobally {
		newInt = publishExpvarInt
		newMap = publishExpvarMap
	}
	return &Metrics{
		PublishedGlobally: publishGlobally,
		AdmittedTotal:     newInt(prefix + "query_admitted_total"),
		RejectedTotal:     newInt(prefix + "query_rejected_total"),
		WarningsTotal:     newInt(prefix + "query_warnings_total"),
		Rejections:        newMap(prefix + "query_rejections"),
		Running:           newInt(prefix + "query_running"),
	}
}

func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		mv.Init()
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}
