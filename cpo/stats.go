/******************************************************************************
 *
 *  Description :
 *    Internal stats reporting through expvar: live counts of connected
 *    clients, messages routed, bytes in/out, updated from a single
 *    channel-fed goroutine so the router and connection workers never
 *    contend on a lock for bookkeeping.
 *
 *****************************************************************************/
package cpo

import (
	"expvar"
	"net/http"
	"runtime"
	"time"

	"github.com/SlightlyLoony/MOP/logs"
)

type varUpdate struct {
	varname string
	count   int64
	inc     bool
}

type statsReporter struct {
	update chan *varUpdate
}

func newStatsReporter(mux *http.ServeMux, path string) *statsReporter {
	if path == "" || path == "-" {
		return &statsReporter{}
	}

	mux.Handle(path, expvar.Handler())
	s := &statsReporter{update: make(chan *varUpdate, 1024)}

	start := time.Now()
	expvar.Publish("Uptime", expvar.Func(func() interface{} {
		return time.Since(start).Seconds()
	}))
	expvar.Publish("NumGoroutines", expvar.Func(func() interface{} {
		return runtime.NumGoroutine()
	}))

	for _, name := range []string{"LiveConnections", "LiveClients", "MessagesRouted", "BytesIn", "BytesOut", "FramesDropped", "AuthFailures"} {
		expvar.Publish(name, new(expvar.Int))
	}

	go s.run()

	logs.Info.Printf("stats: variables exposed at %q", path)
	return s
}

func (s *statsReporter) set(name string, val int64) {
	if s.update == nil {
		return
	}
	select {
	case s.update <- &varUpdate{name, val, false}:
	default:
	}
}

func (s *statsReporter) inc(name string, val int64) {
	if s.update == nil {
		return
	}
	select {
	case s.update <- &varUpdate{name, val, true}:
	default:
	}
}

func (s *statsReporter) shutdown() {
	if s.update != nil {
		s.update <- nil
	}
}

func (s *statsReporter) run() {
	for upd := range s.update {
		if upd == nil {
			break
		}
		ev := expvar.Get(upd.varname)
		if ev == nil {
			logs.Warning.Printf("stats: update to unknown variable %q", upd.varname)
			continue
		}
		intvar, ok := ev.(*expvar.Int)
		if !ok {
			logs.Warning.Printf("stats: variable %q is not an *expvar.Int", upd.varname)
			continue
		}
		if upd.inc {
			intvar.Add(upd.count)
		} else {
			intvar.Set(upd.count)
		}
	}
	logs.Info.Println("stats: shutdown")
}
