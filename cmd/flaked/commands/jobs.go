package commands

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/limnc/flaked/schedule"
)

// JobsCmd lists the jobs the configuration produces.
var JobsCmd = &cobra.Command{
	Use:   "jobs [instrument]",
	Short: "List the jobs derived from the configuration",
	Long: `Show every job the configuration defines, with its trigger and the time
it would next fire if the engine were started now.`,
	Args: cobra.MaximumNArgs(1),
	RunE: listJobs,
}

var jobsJSON bool

func init() {
	JobsCmd.Flags().BoolVarP(&jobsJSON, "json", "j", false, "Output as JSON")
}

func listJobs(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.Shutdown(time.Second)

	for _, inst := range a.Store.Instruments() {
		if _, err := a.Scheduler.Refresh(inst.Name); err != nil {
			return err
		}
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	jobs := a.Scheduler.Jobs(name)

	if jobsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(jobs)
	}

	if len(jobs) == 0 {
		pterm.Info.Println("No jobs configured")
		return nil
	}

	rows := pterm.TableData{{"ID", "Trigger", "Next run"}}
	for _, job := range jobs {
		rows = append(rows, []string{job.ID, describeTrigger(job.Trigger), formatNext(job.NextRunTime)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func describeTrigger(t schedule.TriggerInfo) string {
	if t.Cron != "" {
		return "cron " + t.Cron
	}
	return "every " + (time.Duration(t.Interval) * time.Second).String()
}

func formatNext(next *time.Time) string {
	if next == nil {
		return "-"
	}
	return next.Local().Format(time.DateTime)
}
