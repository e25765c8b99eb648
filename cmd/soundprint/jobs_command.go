package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"soundprint/internal/database"
	"soundprint/pkg/models"

	"github.com/spf13/cobra"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show recent registration jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Jobs.Enabled {
				return errors.New("job history is disabled in configuration")
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}
			db, err := database.NewDatabase(cfg.Jobs.DatabasePath, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			jobs, err := db.GetAllJobs(limit)
			if err != nil {
				return err
			}
			if jsonOut {
				if jobs == nil {
					jobs = []models.Job{}
				}
				return writeJSON(cmd, jobs)
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No registration jobs recorded")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.ID,
					job.Kind,
					string(job.Status),
					job.TrackID,
					job.CreatedAt.Local().Format(time.DateTime),
					truncate(job.Error, 60),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Job", "Kind", "Status", "Track", "Created", "Error"},
				rows,
				nil,
			))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output jobs as JSON")
	return cmd
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
