package telemetry

import (
	"context"
	"time"

	"github.com/rjboer/fobosrx/internal/logging"
)

// StdoutReporter logs hub events, for running without a browser attached.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	return StdoutReporter{logger: logging.OrDefault(logger).With(logging.F("subsystem", "telemetry"))}
}

// Report logs a single event.
func (r StdoutReporter) Report(ev Event) {
	switch {
	case ev.Display != nil:
		r.logger.Debug("display",
			logging.F("center_hz", ev.Display.CenterFrequency),
			logging.F("tuned_hz", ev.Display.Frequency),
			logging.F("input_rate", ev.Display.InputSampleRate),
		)
	case ev.Status != nil:
		st := ev.Status
		fields := []logging.Field{
			logging.F("serial", st.Serial),
			logging.F("phase", st.Phase),
			logging.F("alive", st.Alive),
			logging.F("buffers", st.Stats.Buffers),
		}
		if st.Stats.PublishFailures != 0 {
			fields = append(fields, logging.F("publish_failures", st.Stats.PublishFailures))
		}
		r.logger.Info("receiver status", fields...)
	case len(ev.Results) > 0:
		for _, res := range ev.Results {
			if res.Error != "" {
				r.logger.Warn("setting", logging.F("name", res.Setting), logging.F("applied", res.Applied), logging.F("error", res.Error))
				continue
			}
			r.logger.Info("setting", logging.F("name", res.Setting), logging.F("applied", res.Applied))
		}
	}
}

// Run reports every hub event and, when interval is positive, a periodic
// status event, until ctx is done.
func (r StdoutReporter) Run(ctx context.Context, hub *Hub, interval time.Duration) {
	ch, cancel := hub.Subscribe()
	defer cancel()

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			hub.PublishStatus()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.Report(ev)
		}
	}
}
