// Package history implements the commands that read the export history.
package history

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/kb-export/internal/config"
	"github.com/dtnitsch/kb-export/internal/export"
	"github.com/dtnitsch/kb-export/pkg/db"
)

func openDB(c *cli.Context) (*db.DB, error) {
	path := c.String("db")
	if path == "" {
		path = db.DefaultPath(config.Default().ExportPath)
		if c.IsSet("export-path") {
			path = db.DefaultPath(c.String("export-path"))
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no export history at %s", path)
	}
	return db.Open(path)
}

func RunsAction(c *cli.Context) error {
	logger := export.NewLogger(c)

	database, err := openDB(c)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(2)
	}
	defer database.Close()

	runs, err := database.ListRuns(c.Int("limit"))
	if err != nil {
		logger.Error("failed to list runs", "error", err)
		os.Exit(2)
	}

	if len(runs) == 0 {
		fmt.Println("No export runs recorded")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTRATEGY\tSUMMARY")
	for _, r := range runs {
		summary := r.Stats().String()
		if !r.Finished() {
			summary = "unfinished"
		} else if r.Cancelled > 0 {
			summary += fmt.Sprintf(", %d cancelled", r.Cancelled)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.RunID, humanize.Time(r.StartedAt), r.Strategy, summary)
	}
	return tw.Flush()
}

func RunAction(c *cli.Context) error {
	logger := export.NewLogger(c)

	runID := c.Args().First()
	if runID == "" {
		fmt.Fprintln(os.Stderr, "Error: run id required")
		os.Exit(1)
	}

	database, err := openDB(c)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(2)
	}
	defer database.Close()

	run, err := database.GetRun(runID)
	if errors.Is(err, db.ErrRunNotFound) {
		fmt.Fprintf(os.Stderr, "Run %s not found\n", runID)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to get run", "error", err, "run_id", runID)
		os.Exit(2)
	}

	docs, err := database.GetRunDocuments(runID)
	if err != nil {
		logger.Error("failed to get run documents", "error", err, "run_id", runID)
		os.Exit(2)
	}

	fmt.Printf("Run %s (%s, %s)\n", run.RunID, run.StartedAt.Local().Format(time.DateTime), run.Strategy)
	fmt.Printf("Export path: %s\n", run.ExportPath)
	fmt.Printf("Summary: %s\n\n", run.Stats())

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OUTCOME\tATTEMPTS\tSIZE\tDOCUMENT\tERROR")
	for _, d := range docs {
		size := "-"
		if d.SizeBytes > 0 {
			size = humanize.Bytes(uint64(d.SizeBytes))
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s/%s\t%s\n", d.Outcome, d.Attempts, size, d.Book, d.Name, d.ErrorMessage)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if !c.Bool("attempts") {
		return nil
	}

	attempts, err := database.GetRunAttempts(runID)
	if err != nil {
		logger.Error("failed to get run attempts", "error", err, "run_id", runID)
		os.Exit(2)
	}

	fmt.Println()
	tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tATTEMPT\tRESULT\tPATH\tERROR")
	for _, a := range attempts {
		result := "ok"
		if !a.Success {
			result = "failed"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", a.AttemptedAt.Local().Format(time.TimeOnly), a.Attempt, result, a.Path, a.ErrorMessage)
	}
	return tw.Flush()
}
