package context

import (
	"github.com/robfig/cron/v3"

	"github.com/streamspace-dev/syncml-dbapi/internal/logger"
)

// Sweeper runs GlobalChain.Sweep on a cron schedule, for long-lived module
// contexts whose sessions have all ended without ever triggering the
// inline sweep (§4.D runs the sweep at session end; this is a maintenance
// convenience on top of that, not a correctness requirement — see
// SPEC_FULL.md §11.4). It is grounded on the codebase's PluginScheduler,
// which wraps the same cron.Cron the same way: construct, AddFunc, Start,
// Stop.
type Sweeper struct {
	chain *GlobalChain
	cron  *cron.Cron
}

// NewGlobalChainSweeper builds a Sweeper for chain on the given cron
// schedule (standard 5-field cron syntax). It does not start the
// underlying scheduler; call Start.
func NewGlobalChainSweeper(chain *GlobalChain, schedule string) (*Sweeper, error) {
	c := cron.New()
	s := &Sweeper{chain: chain, cron: c}
	_, err := c.AddFunc(schedule, func() {
		before := chain.Len()
		chain.Sweep()
		after := chain.Len()
		if before != after {
			logger.Context().Debug().Int("before", before).Int("after", after).Msg("global context chain swept")
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the periodic sweep.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the periodic sweep and waits for any in-flight run to finish.
func (s *Sweeper) Stop() { s.cron.Stop() }
