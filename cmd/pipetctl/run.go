package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/danmuck/pipetctl/internal/journal"
	"github.com/danmuck/pipetctl/internal/observability"
	"github.com/danmuck/pipetctl/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func (a *app) runCmd() *cobra.Command {
	var (
		flags runFlags
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a protocol on the configured robot",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCfg := flags.resolve(cmd, a.cfg.Run)
			reg, err := a.registry()
			if err != nil {
				return err
			}
			def, err := reg.Resolve(runCfg.Protocol)
			if err != nil {
				return err
			}
			opts := runCfg.Options()
			setup, err := protocol.Recap(def, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, setup.String())

			hw, err := def.Hardware()
			if err != nil {
				return err
			}
			var onPause func(string) error
			if !yes {
				onPause = a.prompter()
			}
			platform, release, err := platformFactory(a.cfg.Robot, onPause)(hw)
			if err != nil {
				return err
			}
			if release != nil {
				defer func() { _ = release() }()
			}

			store, err := journal.Open(a.cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			run, err := store.Begin(ctx, def.ID, opts)
			if err != nil {
				return err
			}
			record := store.Observer(run.ID)
			opts.Observer = observability.StepObserver(def.ID, func(ev protocol.Event) {
				record(ev)
				a.printEvent(ev)
			})
			report, runErr := protocol.NewSequencer(observability.Metered(platform)).Run(ctx, def, opts)
			if err := store.Finish(context.Background(), run.ID, report, runErr); err != nil {
				log.Warn().Err(err).Str("run", run.ID).Msg("journal finish")
			}
			if report != nil {
				printReport(a.out, run.ID, report)
			}
			return runErr
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "resume operator pauses without waiting")
	return cmd
}

// prompter blocks each pause until the operator presses enter.
func (a *app) prompter() func(string) error {
	reader := bufio.NewReader(a.in)
	return func(msg string) error {
		fmt.Fprintf(a.out, "PAUSED: %s\npress enter to resume... ", msg)
		if _, err := reader.ReadString('\n'); err != nil && err != io.EOF {
			return err
		}
		fmt.Fprintln(a.out)
		return nil
	}
}

func (a *app) printEvent(ev protocol.Event) {
	label := fmt.Sprintf("step %d (%s)", ev.Index+1, ev.Kind)
	if ev.Skipped {
		fmt.Fprintf(a.out, "[%s] %s skipped\n", ev.Phase, label)
		return
	}
	msg := strings.TrimSpace(ev.Message)
	if msg == "" {
		fmt.Fprintf(a.out, "[%s] %s\n", ev.Phase, label)
		return
	}
	fmt.Fprintf(a.out, "[%s] %s %s\n", ev.Phase, label, msg)
}

func printReport(out io.Writer, runID string, report *protocol.Report) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", runID)
	fmt.Fprintf(tw, "protocol\t%s\n", report.Protocol)
	fmt.Fprintf(tw, "columns\t%d\n", report.Columns)
	fmt.Fprintf(tw, "steps\t%d (%d skipped)\n", report.Steps, report.Skipped)
	fmt.Fprintf(tw, "transfers\t%d\n", report.Transfers)
	fmt.Fprintf(tw, "incubation\t%s\n", report.IncubationTotal)
	phases := make([]string, 0, len(report.Phases))
	for _, p := range report.PhaseSequence() {
		phases = append(phases, string(p))
	}
	fmt.Fprintf(tw, "phases\t%s\n", strings.Join(phases, " > "))
	_ = tw.Flush()
}
