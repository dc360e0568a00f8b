package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"hz.tools/rf"
	"hz.tools/sdr"

	"github.com/rjboer/fobosrx/internal/logging"
	"github.com/rjboer/fobosrx/internal/receiver"
	"github.com/rjboer/fobosrx/internal/stream"
)

func newListCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connected receivers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cfg.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rx, err := cfg.newReceiver(logger, nil)
			if err != nil {
				return err
			}
			defer rx.Close()

			serials := rx.Refresh()
			out := cmd.OutOrStdout()
			if len(serials) == 0 {
				fmt.Fprintln(out, "No devices found")
				return nil
			}
			for i, s := range serials {
				fmt.Fprintf(out, "%d  %s\n", i, s)
			}
			return nil
		},
	}
}

func newInfoCmd(cfg *cliConfig) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show identity, capability and stored settings of a receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cfg.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rx, err := cfg.openReceiver(logger, nil)
			if err != nil {
				return err
			}
			defer rx.Close()

			st := rx.Status()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printInfo(out, st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print as JSON")
	return cmd
}

func printInfo(w io.Writer, st receiver.Status) {
	rates := make([]string, len(st.Rates))
	for i, r := range st.Rates {
		rates[i] = rf.Hz(r).String()
	}
	id := st.Identity
	rows := [][2]string{
		{"serial", st.Serial},
		{"product", id.Product},
		{"manufacturer", id.Manufacturer},
		{"hw revision", id.HWRevision},
		{"fw version", id.FWVersion},
		{"library", fmt.Sprintf("%s (%s)", id.LibVersion, id.DriverVersion)},
		{"sample rates", strings.Join(rates, ", ")},
		{"frequency", rf.Hz(st.State.CenterFrequency).String()},
		{"sample rate", rf.Hz(st.State.SampleRate).String()},
		{"mode", st.State.Mode.String()},
		{"lna gain", fmt.Sprint(st.State.LNAGain)},
		{"vga gain", fmt.Sprint(st.State.VGAGain)},
		{"clock", st.State.Clock.String()},
		{"gpo", fmt.Sprintf("0x%02x", st.State.GPO)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-14s %s\n", r[0], r[1])
	}
}

func printResults(w io.Writer, results []receiver.Result) {
	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(w, "%-14s %v\n", r.Setting, r.Applied)
			continue
		}
		fmt.Fprintf(w, "%-14s %v (%v)\n", r.Setting, r.Applied, r.Err)
	}
}

func firstFailure(results []receiver.Result) error {
	for _, r := range results {
		if !r.OK() {
			return fmt.Errorf("%s: %w", r.Setting, r.Err)
		}
	}
	return nil
}

func newGPOCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "gpo MASK",
		Short: "Set the user GPO bits (e.g. 0x81)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mask, err := parseMask(args[0])
			if err != nil {
				return err
			}
			logger, err := cfg.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rx, err := cfg.openReceiver(logger, nil)
			if err != nil {
				return err
			}
			defer rx.Close()

			res := rx.SetGPO(mask)
			printResults(cmd.OutOrStdout(), []receiver.Result{res})
			return firstFailure([]receiver.Result{res})
		},
	}
}

func newCaptureCmd(cfg *cliConfig, lookup lookupFunc) *cobra.Command {
	var (
		t      tuning
		output string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record raw cf32 samples",
		Long: "Record interleaved little-endian float32 I/Q samples to a file, or to stdout with -o -.\n" +
			"With --samples 0 the capture runs until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := cfg.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rx, err := cfg.openReceiver(logger, nil)
			if err != nil {
				return err
			}
			defer rx.Close()

			results, err := t.apply(cmd, rx)
			if err != nil {
				return err
			}
			if err := firstFailure(results); err != nil {
				return err
			}
			rx.PostInit()

			w, closeOut, err := openOutput(output, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			ctx, cancel := notifyContext(cmd.Context())
			defer cancel()

			if err := rx.Start(); err != nil {
				closeOut()
				return err
			}
			// Closing ends the stream, which unblocks the reader with io.EOF.
			unhook := context.AfterFunc(ctx, func() { rx.Close() })
			defer unhook()

			r := stream.NewReader(rx.Output(), uint(rx.State().SampleRate))
			n, err := capture(r, w, count)
			r.Close()
			rx.Stop()
			logger.Info("capture finished", logging.F("samples", n), logging.F("output", output))
			if errors.Is(err, io.EOF) && ctx.Err() != nil {
				err = nil
			}
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			return err
		},
	}
	bindTuningFlags(cmd, &t)
	cmd.Flags().StringVarP(&output, "output", "o", envString(lookup, "FOBOS_CAPTURE_OUTPUT", "capture.cf32"), "Output file, - for stdout")
	cmd.Flags().IntVarP(&count, "samples", "n", envInt(lookup, "FOBOS_CAPTURE_SAMPLES", 1<<20), "Number of samples to record")
	return cmd
}

func openOutput(path string, stdout io.Writer) (*bufio.Writer, func() error, error) {
	if path == "-" {
		bw := bufio.NewWriter(stdout)
		return bw, bw.Flush, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	bw := bufio.NewWriter(f)
	return bw, func() error {
		if err := bw.Flush(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

// capture copies count samples (all of them when count <= 0) from r to w.
func capture(r sdr.Reader, w io.Writer, count int) (int, error) {
	size := 64 * 1024
	if count > 0 {
		size = min(size, count)
	}
	buf := make(sdr.SamplesC64, size)
	total := 0
	for count <= 0 || total < count {
		chunk := buf
		if count > 0 {
			chunk = buf[:min(len(buf), count-total)]
		}
		n, err := sdr.ReadFull(r, chunk)
		if n > 0 {
			if werr := binary.Write(w, binary.LittleEndian, []complex64(chunk[:n])); werr != nil {
				return total, werr
			}
			total += n
		}
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
