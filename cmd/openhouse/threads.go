package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/openhouse/internal/checkpoint"
	"github.com/zulandar/openhouse/internal/dialog"
	"github.com/zulandar/openhouse/internal/models"
	"github.com/zulandar/openhouse/internal/session"
	"gorm.io/gorm"
)

func newThreadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threads",
		Short: "Inspect and remove conversation threads",
	}

	cmd.AddCommand(newThreadsListCmd())
	cmd.AddCommand(newThreadsShowCmd())
	cmd.AddCommand(newThreadsDeleteCmd())
	return cmd
}

func newThreadsListCmd() *cobra.Command {
	var (
		configPath string
		status     string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent threads",
		RunE: func(cmd *cobra.Command, args []string) error {
			gormDB, err := threadsDB(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			return runThreadsList(cmd, gormDB, status, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OpenHouse config file")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (active, expired, closed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum threads to show")
	return cmd
}

func runThreadsList(cmd *cobra.Command, gormDB *gorm.DB, status string, limit int) error {
	q := gormDB.WithContext(cmd.Context()).Order("last_activity desc").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var threads []models.Thread
	if err := q.Find(&threads).Error; err != nil {
		return fmt.Errorf("list threads: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(threads) == 0 {
		fmt.Fprintln(out, "No threads found.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "THREAD\tCHANNEL\tSTATUS\tLAST ACTIVITY")
	for _, t := range threads {
		state := t.Status
		if t.CloseReason != "" {
			state += " (" + t.CloseReason + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ThreadID, t.Channel, state, t.LastActivity.Format(time.RFC3339))
	}
	return w.Flush()
}

// threadDetail is what "threads show" prints.
type threadDetail struct {
	ThreadID   string                 `json:"thread_id"`
	Status     string                 `json:"status,omitempty"`
	State      *dialog.State          `json:"state,omitempty"`
	Executions []models.ToolExecution `json:"tool_executions,omitempty"`
}

func newThreadsShowCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <thread-id>",
		Short: "Print a thread's saved state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gormDB, err := threadsDB(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			return runThreadsShow(cmd, gormDB, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OpenHouse config file")
	return cmd
}

func runThreadsShow(cmd *cobra.Command, gormDB *gorm.DB, id string) error {
	ctx := cmd.Context()
	store := checkpoint.New(gormDB)

	detail := threadDetail{ThreadID: id}
	var row models.Thread
	found := false
	if err := gormDB.WithContext(ctx).Where("thread_id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return fmt.Errorf("load thread %s: %w", id, err)
	}
	if row.ThreadID != "" {
		detail.Status = row.Status
		found = true
	}

	st, ok, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		detail.State = &st
		found = true
	}
	if !found {
		return fmt.Errorf("thread %s not found", id)
	}

	if detail.Executions, err = store.Executions(ctx, id); err != nil {
		return err
	}

	data, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return fmt.Errorf("encode thread: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func newThreadsDeleteCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Discard a thread's saved state and mark it closed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gormDB, err := threadsDB(configPath, cmd.Flags().Changed("config"))
			if err != nil {
				return err
			}
			return runThreadsDelete(cmd, gormDB, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to OpenHouse config file")
	return cmd
}

func runThreadsDelete(cmd *cobra.Command, gormDB *gorm.DB, id string) error {
	ctx := cmd.Context()
	if err := checkpoint.New(gormDB).Delete(ctx, id); err != nil {
		return err
	}
	now := time.Now()
	err := gormDB.WithContext(ctx).Model(&models.Thread{}).
		Where("thread_id = ? AND status = ?", id, session.StatusActive).
		Updates(map[string]any{
			"status":       session.StatusClosed,
			"close_reason": string(session.ReasonClosed),
			"closed_at":    &now,
		}).Error
	if err != nil {
		return fmt.Errorf("close thread %s: %w", id, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Thread %s deleted\n", id)
	return nil
}

func threadsDB(configPath string, explicit bool) (*gorm.DB, error) {
	cfg, err := loadConfig(configPath, explicit)
	if err != nil {
		return nil, err
	}
	return connectFromConfig(cfg)
}
