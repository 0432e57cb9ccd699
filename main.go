package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/kb-export/internal/export"
	"github.com/dtnitsch/kb-export/internal/history"
	"github.com/dtnitsch/kb-export/models"
	"github.com/dtnitsch/kb-export/pkg/exporter"
	"github.com/dtnitsch/kb-export/pkg/watcher"
)

func main() {
	logFlags := []cli.Flag{
		&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Only log errors"},
		&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "Log watcher state changes and ignored events"},
	}
	historyFlags := []cli.Flag{
		&cli.StringFlag{Name: "export-path", EnvVars: []string{"EXPORT_PATH"}, Usage: "Export root whose history to read"},
		&cli.StringFlag{Name: "db", EnvVars: []string{"EXPORT_DB"}, Usage: "History database (default <export-path>/.kb-export/history.db)"},
	}

	app := &cli.App{
		Name:  "kb-export",
		Usage: "Export knowledge-base documents as markdown files",
		Commands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Download every document in a target list into the export root",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "targets", Aliases: []string{"t"}, Required: true, Usage: "YAML target list"},
					&cli.StringFlag{Name: "export-path", EnvVars: []string{"EXPORT_PATH"}, Value: ".", Usage: "Export root, must exist"},
					&cli.StringFlag{
						Name:    "write-strategy",
						EnvVars: []string{"EXPORT_WRITE_STRATEGY"},
						Value:   models.DefaultWriteStrategy.String(),
						Usage:   "skip-unchanged or overwrite",
					},
					&cli.IntFlag{Name: "retries", EnvVars: []string{"EXPORT_RETRIES"}, Value: exporter.DefaultMaxRetries, Usage: "Attempts after the first one"},
					&cli.DurationFlag{Name: "timeout", EnvVars: []string{"EXPORT_TIMEOUT"}, Value: watcher.DefaultTimeout, Usage: "Time allowed per download attempt"},
					&cli.DurationFlag{Name: "retry-delay", EnvVars: []string{"EXPORT_RETRY_DELAY"}, Usage: "Pause between attempts"},
					&cli.DurationFlag{Name: "pace", EnvVars: []string{"EXPORT_PACE"}, Usage: "Minimum gap between documents"},
					&cli.StringFlag{Name: "db", EnvVars: []string{"EXPORT_DB"}, Usage: "History database (default <export-path>/.kb-export/history.db)"},
					&cli.BoolFlag{Name: "no-history", Usage: "Do not record the run"},
				}, logFlags...),
				Action: export.ExportAction,
			},
			{
				Name:   "runs",
				Usage:  "List recent export runs",
				Flags:  append(append([]cli.Flag{&cli.IntFlag{Name: "limit", Value: 20, Usage: "Number of runs, 0 for all"}}, historyFlags...), logFlags...),
				Action: history.RunsAction,
			},
			{
				Name:      "run",
				Usage:     "Show the documents of one export run",
				ArgsUsage: "<run-id>",
				Flags:     append(append([]cli.Flag{&cli.BoolFlag{Name: "attempts", Usage: "Also list every download attempt"}}, historyFlags...), logFlags...),
				Action:    history.RunAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}
