package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

func init() {
	tasksCmd.Flags().StringVar(&tasksProject, "project", "", "Filter by project")
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "Filter by status")
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(cancelCmd)
}

var (
	tasksProject string
	tasksStatus  string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks",
	RunE:  runTasks,
}

func runTasks(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	q := url.Values{}
	if tasksProject != "" {
		q.Set("project", tasksProject)
	}
	if tasksStatus != "" {
		q.Set("status", tasksStatus)
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Tasks []domain.Task `json:"tasks"`
	}
	if err := c.get(path, &resp); err != nil {
		return err
	}
	if len(resp.Tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tCREATED\tUPDATED")
	for _, t := range resp.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.TaskID, t.Status,
			t.CreatedAt.Format("15:04:05"),
			t.UpdatedAt.Format("15:04:05"),
		)
	}
	return w.Flush()
}

var submitCmd = &cobra.Command{
	Use:   "submit <project> <function> [payload]",
	Short: "Invoke a function asynchronously as a task",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var payload json.RawMessage
	if len(args) == 3 {
		if !json.Valid([]byte(args[2])) {
			return fmt.Errorf("payload must be valid JSON")
		}
		payload = json.RawMessage(args[2])
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	body := map[string]any{
		"project":  args[0],
		"function": args[1],
		"payload":  payload,
	}
	var resp struct {
		Task     domain.Task `json:"task"`
		Existing bool        `json:"existing"`
	}
	if err := c.post("/tasks", body, &resp); err != nil {
		return err
	}
	if resp.Existing {
		fmt.Printf("Task %s is already active.\n", resp.Task.TaskID)
		return nil
	}
	fmt.Printf("Task %s created.\n", resp.Task.TaskID)
	return nil
}

var taskCmd = &cobra.Command{
	Use:   "task <id>",
	Short: "Show one task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTask,
}

func runTask(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var t domain.Task
	if err := c.get("/tasks/"+args[0], &t); err != nil {
		return err
	}
	printJSON(t)
	return nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a task",
	Long:  `Request cancellation. A task that has not started yet is cancelled before it runs; a running task is not interrupted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.delete("/tasks/"+args[0], nil); err != nil {
		return err
	}
	fmt.Printf("Cancellation requested for %s.\n", args[0])
	return nil
}
