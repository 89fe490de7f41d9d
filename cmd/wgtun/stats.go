package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/edup2p/wgtun/tunnel"
)

// StatsJob logs a session's counters, scheduled with cron.
type StatsJob struct {
	ctx     context.Context
	session *tunnel.Session
	events  *tunnel.EventCounter
}

func NewStatsJob(ctx context.Context, s *tunnel.Session, events *tunnel.EventCounter) *StatsJob {
	return &StatsJob{
		ctx:     ctx,
		session: s,
		events:  events,
	}
}

func (j *StatsJob) Run() {
	ctx, cancel := context.WithTimeout(j.ctx, time.Second)
	defer cancel()

	st, err := j.session.Stats(ctx)
	if err != nil {
		slog.Warn("stats: could not get session stats", "err", err)
		return
	}

	attrs := []any{
		"state", st.State,
		"tx_bytes", st.TxBytes,
		"rx_bytes", st.RxBytes,
		"tx_packets", st.TxPackets,
		"rx_packets", st.RxPackets,
		"send_retries", st.SendRetries,
	}
	if !st.LastHandshake.IsZero() {
		attrs = append(attrs, "last_handshake", time.Since(st.LastHandshake).Round(time.Second))
	}

	if j.events != nil {
		for _, name := range j.events.Names() {
			attrs = append(attrs, name, j.events.Count(name))
		}
	}

	slog.Info("stats", attrs...)
}
