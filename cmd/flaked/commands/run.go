package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/limnc/flaked/app"
	"github.com/limnc/flaked/pipeline"
)

// RunCmd runs one job in the foreground.
var RunCmd = &cobra.Command{
	Use:   "run <instrument|instrument:kind>",
	Short: "Run one job now and wait for it",
	Long: `Run a job immediately, outside any schedule, and print what it did.

The job is either an instrument name or a job id such as "spectrometer:cron".
The run uses the same pipeline as scheduled runs: pre-hook, file selection,
upload with retry, relocation and post-hook.`,
	Args: cobra.ExactArgs(1),
	RunE: runJob,
}

func runJob(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(app.ShutdownTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := a.Pipeline.Run(ctx, args[0])
	printRun(run)
	return err
}

func printRun(run *pipeline.Run) {
	if run == nil {
		return
	}
	rows := pterm.TableData{
		{"Job", run.JobID},
		{"Run", run.RunID},
		{"Selected", fmt.Sprint(len(run.Selected))},
		{"Uploaded", fmt.Sprint(len(run.Uploaded))},
		{"Relocated", fmt.Sprint(len(run.Relocated))},
		{"Duration", run.Duration().Round(time.Millisecond).String()},
	}
	_ = pterm.DefaultTable.WithData(rows).Render()

	if run.Outcome == pipeline.OutcomeSuccess {
		pterm.Success.Printf("%s finished\n", run.JobID)
		return
	}
	pterm.Error.Printf("%s failed: %s\n", run.JobID, run.Error)
}
