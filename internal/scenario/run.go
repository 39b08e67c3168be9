package scenario

import (
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/driver"
	"github.com/routersimlab/netsim/internal/trace"
)

// PingResult pairs a scenario's ping declaration with the stats it
// produced, reported once the run completes.
type PingResult struct {
	Router string
	Stats  *driver.PingStats
}

// Result is everything observable about a finished run.
type Result struct {
	Topology *driver.Topology
	Routers  map[string]*driver.Router
	Pings    []PingResult
}

// Run builds the topology cfg describes, drives it to completion, and
// returns the resulting handles for inspection (by tests or a CLI
// summary printer).
func Run(cfg *Config, log *zap.SugaredLogger) (*Result, error) {
	topo := driver.NewTopology(cfg.Name, cfg.AreaID, log, cfg.Seed)
	routers := make(map[string]*driver.Router, len(cfg.Routers))

	for _, rc := range cfg.Routers {
		r, err := topo.AddRouter(rc.Hostname, rc.Cluster, rc.Interfaces...)
		if err != nil {
			return nil, fmt.Errorf("scenario: router %s: %w", rc.Hostname, err)
		}
		routers[rc.Hostname] = r

		if cfg.Trace != nil {
			path := filepath.Join(cfg.Trace.Dir, rc.Hostname+".jsonl")
			if cfg.Trace.Compress {
				path += ".zst"
			}
			w, err := trace.NewFileWriter(path, rc.Hostname, cfg.Trace.Compress, cfg.Trace.MaxSize)
			if err != nil {
				return nil, fmt.Errorf("scenario: trace %s: %w", rc.Hostname, err)
			}
			w.Attach(r.Device().Bus)
		}
	}

	for _, lc := range cfg.Links {
		a, ok := routers[lc.A]
		if !ok {
			return nil, fmt.Errorf("scenario: link references unknown router %q", lc.A)
		}
		b, ok := routers[lc.B]
		if !ok {
			return nil, fmt.Errorf("scenario: link references unknown router %q", lc.B)
		}
		link, err := topo.LinkRouters(a, b, lc.LatencyMs, lc.TEMetric)
		if err != nil {
			return nil, fmt.Errorf("scenario: link %s-%s: %w", lc.A, lc.B, err)
		}
		if lc.DownAtMs > 0 {
			topo.Schedule(lc.DownAtMs, link.Down)
		}
	}

	for _, sr := range cfg.Static {
		r, ok := routers[sr.Router]
		if !ok {
			return nil, fmt.Errorf("scenario: static route references unknown router %q", sr.Router)
		}
		if err := r.StaticRoute(sr.Prefix, sr.Interface); err != nil {
			return nil, fmt.Errorf("scenario: static route on %s: %w", sr.Router, err)
		}
	}

	if err := topo.IsisEnableAll(cfg.Isis.EnablePattern); err != nil {
		return nil, fmt.Errorf("scenario: isis enable: %w", err)
	}
	if err := topo.IsisStartAll(cfg.Isis.StartPattern); err != nil {
		return nil, fmt.Errorf("scenario: isis start: %w", err)
	}
	if err := topo.RsvpStartAll(cfg.Rsvp.StartPattern); err != nil {
		return nil, fmt.Errorf("scenario: rsvp start: %w", err)
	}

	for _, s := range cfg.Rsvp.Sessions {
		r, ok := routers[s.Router]
		if !ok {
			return nil, fmt.Errorf("scenario: rsvp session references unknown router %q", s.Router)
		}
		r.CreateLsp(s.Name, s.Dest, s.LinkProtection)
	}

	var pings []PingResult
	for _, p := range cfg.Pings {
		r, ok := routers[p.Router]
		if !ok {
			return nil, fmt.Errorf("scenario: ping references unknown router %q", p.Router)
		}
		stats := r.Ping(p.Dest, p.Count, p.TimeoutMs)
		pings = append(pings, PingResult{Router: p.Router, Stats: stats})
	}

	topo.RunUntil(cfg.RunUntilMs)

	return &Result{Topology: topo, Routers: routers, Pings: pings}, nil
}
