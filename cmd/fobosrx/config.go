package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"hz.tools/rf"

	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/receiver"
	"github.com/rjboer/fobosrx/internal/sdr"
	"github.com/rjboer/fobosrx/internal/settings"
)

const defaultConfigPath = "fobos_config.json"

type lookupFunc func(string) (string, bool)

// cliConfig holds the flags shared by every subcommand.
type cliConfig struct {
	configPath string
	serial     string
	driver     string
	logLevel   string
	logFormat  string
}

func bindGlobalFlags(cmd *cobra.Command, cfg *cliConfig, lookup lookupFunc) {
	fs := cmd.PersistentFlags()
	fs.StringVar(&cfg.configPath, "config", envString(lookup, "FOBOS_CONFIG", defaultConfigPath), "Settings file")
	fs.StringVar(&cfg.serial, "serial", envString(lookup, "FOBOS_SERIAL", ""), "Device serial (default: last used, then first found)")
	fs.StringVar(&cfg.driver, "driver", envString(lookup, "FOBOS_DRIVER", "fobos"), "Driver (fobos|mock)")
	fs.StringVar(&cfg.logLevel, "log-level", envString(lookup, "FOBOS_LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logFormat, "log-format", envString(lookup, "FOBOS_LOG_FORMAT", "text"), "Log format (text|json)")
}

func envString(lookup lookupFunc, key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}

func envInt(lookup lookupFunc, key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup lookupFunc, key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envDuration(lookup lookupFunc, key string, def time.Duration) time.Duration {
	if val, ok := lookup(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return def
}

var newDriver = func(name string) (sdr.Driver, error) {
	switch name {
	case "fobos":
		return sdr.NewFobos(), nil
	case "mock":
		return sdr.NewMock(), nil
	default:
		return nil, fmt.Errorf("unknown driver %s", name)
	}
}

func (c cliConfig) logger(w io.Writer) (logging.Logger, error) {
	level, err := logging.ParseLevel(c.logLevel)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.logFormat)
	if err != nil {
		return nil, err
	}
	l := logging.New(level, format, w)
	// Components built without an explicit logger, such as a memory store,
	// log through the process default.
	logging.SetDefault(l)
	return l, nil
}

// newReceiver builds a receiver over the configured driver and settings file
// without selecting a device.
func (c cliConfig) newReceiver(logger logging.Logger, display receiver.Display) (*receiver.Receiver, error) {
	drv, err := newDriver(c.driver)
	if err != nil {
		return nil, err
	}
	store, err := settings.Open(c.configPath, logger)
	if err != nil {
		return nil, err
	}
	return receiver.New(receiver.Options{Driver: drv, Store: store, Display: display, Logger: logger})
}

// selectDevice picks --serial when given, otherwise the last used device.
func (c cliConfig) selectDevice(rx *receiver.Receiver) error {
	if c.serial == "" {
		return rx.Init()
	}
	rx.Refresh()
	return rx.SelectBySerial(c.serial)
}

// openReceiver is newReceiver followed by selectDevice.
func (c cliConfig) openReceiver(logger logging.Logger, display receiver.Display) (*receiver.Receiver, error) {
	rx, err := c.newReceiver(logger, display)
	if err != nil {
		return nil, err
	}
	if err := c.selectDevice(rx); err != nil {
		rx.Close()
		return nil, err
	}
	return rx, nil
}

// tuning collects the optional parameter flags of capture and serve.
type tuning struct {
	frequency string
	rate      string
	mode      string
	clock     string
	lna       int
	vga       int
}

func bindTuningFlags(cmd *cobra.Command, t *tuning) {
	fs := cmd.Flags()
	fs.StringVar(&t.frequency, "frequency", "", "Center frequency, e.g. 433.92MHz")
	fs.StringVar(&t.rate, "rate", "", "Sample rate, e.g. 25MHz")
	fs.StringVar(&t.mode, "mode", "", "Sampling mode (rf|hf|hf-a|hf-b)")
	fs.StringVar(&t.clock, "clock", "", "Clock source (internal|external)")
	fs.IntVar(&t.lna, "lna", 0, "LNA gain index (0-3)")
	fs.IntVar(&t.vga, "vga", 0, "VGA gain index (0-15)")
}

// apply pushes every flag the user set. Mode goes first so a frequency given
// alongside a switch back to RF is accepted.
func (t tuning) apply(cmd *cobra.Command, rx *receiver.Receiver) ([]receiver.Result, error) {
	changed := cmd.Flags().Changed
	var results []receiver.Result
	if changed("mode") {
		m, err := receiver.ParseMode(t.mode)
		if err != nil {
			return nil, err
		}
		results = append(results, rx.SetMode(m))
	}
	if changed("rate") {
		hz, err := rf.ParseHz(t.rate)
		if err != nil {
			return nil, fmt.Errorf("rate: %w", err)
		}
		results = append(results, rx.SetSampleRate(float64(hz)))
	}
	if changed("frequency") {
		hz, err := rf.ParseHz(t.frequency)
		if err != nil {
			return nil, fmt.Errorf("frequency: %w", err)
		}
		results = append(results, rx.SetFrequency(float64(hz)))
	}
	if changed("lna") {
		results = append(results, rx.SetLNAGain(t.lna))
	}
	if changed("vga") {
		results = append(results, rx.SetVGAGain(t.vga))
	}
	if changed("clock") {
		c, err := receiver.ParseClockSource(t.clock)
		if err != nil {
			return nil, err
		}
		results = append(results, rx.SetClockSource(c))
	}
	return results, nil
}

func parseMask(s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("gpo mask %q: %w", s, err)
	}
	return uint8(v), nil
}
