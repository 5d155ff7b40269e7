package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Danservfinn/kurultai-sub008/internal/store"
	"github.com/Danservfinn/kurultai-sub008/pkg/models"
)

var planSender string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show the current task graph",
	Long: `Display the stored task graph.

Shows every sender's tasks with status, priority, and ordering
constraints, plus any dispatches still waiting on a worker result.
Read-only.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planSender, "sender", "", "Limit output to one sender")
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	st := store.New(db)

	senders := []string{planSender}
	if planSender == "" {
		senders, err = st.ActiveSenders()
		if err != nil {
			return fmt.Errorf("list senders: %w", err)
		}
	}
	if len(senders) == 0 {
		fmt.Println("No tasks on file. Run 'kurultai run' to start.")
		return nil
	}

	for i, sender := range senders {
		if i > 0 {
			fmt.Println()
		}
		if err := displaySenderPlan(st, sender); err != nil {
			return err
		}
	}

	return displayOpenDispatches(st)
}

func displaySenderPlan(st *store.Store, sender string) error {
	tasks, err := st.TasksForSender(sender)
	if err != nil {
		return fmt.Errorf("tasks for %s: %w", sender, err)
	}
	if len(tasks) == 0 {
		fmt.Printf("%s: no tasks\n", sender)
		return nil
	}

	descByID := make(map[string]string, len(tasks))
	for _, t := range tasks {
		descByID[t.ID] = t.Description
	}

	fmt.Printf("%s:\n", sender)
	for _, t := range tasks {
		marker := ""
		if t.ExplicitPriority {
			marker = " *"
		}
		fmt.Printf("  %s %s  %s (priority %.2f%s)\n",
			statusLabel(t.Status), t.ID, t.Description, t.Priority, marker)
		if t.MergedInto != "" {
			fmt.Printf("      merged into: %s\n", renderRefs([]string{t.MergedInto}, descByID))
		}
		if preds, err := st.Predecessors(t.ID); err == nil && len(preds) > 0 {
			fmt.Printf("      after: %s\n", renderRefs(preds, descByID))
		}
		if t.Error != "" {
			fmt.Printf("      error: %s\n", t.Error)
		}
	}
	return nil
}

func displayOpenDispatches(st *store.Store) error {
	open, err := st.OpenDispatches()
	if err != nil {
		return fmt.Errorf("open dispatches: %w", err)
	}
	if len(open) == 0 {
		return nil
	}

	fmt.Println("\nAwaiting worker results:")
	for _, d := range open {
		fmt.Printf("  %s -> %s [%s] dispatched %s ago\n",
			d.TaskID, d.WorkerID, d.Pool, formatDuration(time.Since(d.DispatchedAt)))
	}
	return nil
}

// statusLabel renders a fixed-width colored status tag.
func statusLabel(s models.TaskStatus) string {
	label := fmt.Sprintf("[%-11s]", s)
	switch s {
	case models.TaskStatusCompleted:
		return color.GreenString(label)
	case models.TaskStatusInProgress, models.TaskStatusReady:
		return color.CyanString(label)
	case models.TaskStatusFailed, models.TaskStatusEscalated:
		return color.RedString(label)
	case models.TaskStatusPaused:
		return color.YellowString(label)
	default:
		return label
	}
}

func renderRefs(ids []string, descByID map[string]string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ", "
		}
		if desc, ok := descByID[id]; ok {
			out += fmt.Sprintf("%s (%s)", desc, id)
		} else {
			out += id
		}
	}
	return out
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if m > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dh", h)
}
