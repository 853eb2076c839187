package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cirrus-faas/cirrus/internal/domain"
)

func init() {
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(functionsCmd)
}

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"ls"},
	Short:   "List deployed projects",
	RunE:    runProjects,
}

func runProjects(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var resp struct {
		Projects []domain.Project `json:"projects"`
	}
	if err := c.get("/projects", &resp); err != nil {
		return err
	}
	if len(resp.Projects) == 0 {
		fmt.Println("No projects deployed. Run 'cirrus deploy <project>' to get started.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDIR\tDEPLOYED")
	for _, p := range resp.Projects {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Dir, p.DeployedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

var deployCmd = &cobra.Command{
	Use:   "deploy <project>",
	Short: "Deploy or redeploy a project",
	Long: `Deploy a project whose sources are under the projects directory.
Provisions its environment, discovers its functions, and restarts its worker.`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var resp struct {
		Functions []domain.Function `json:"functions"`
	}
	if err := c.post("/projects/"+args[0]+"/deploy", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Deployed %s with %d functions.\n", args[0], len(resp.Functions))
	for _, fn := range resp.Functions {
		fmt.Printf("  %s\n", fn.Name)
	}
	return nil
}

var rmCmd = &cobra.Command{
	Use:   "rm <project>",
	Short: "Delete a project and its environment",
	Args:  cobra.ExactArgs(1),
	RunE:  runRm,
}

func runRm(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	if err := c.delete("/projects/"+args[0], nil); err != nil {
		return err
	}
	fmt.Printf("Deleted %s.\n", args[0])
	return nil
}

var functionsCmd = &cobra.Command{
	Use:   "functions <project>",
	Short: "List a project's functions",
	Args:  cobra.ExactArgs(1),
	RunE:  runFunctions,
}

func runFunctions(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	var resp struct {
		Functions []domain.Function `json:"functions"`
	}
	if err := c.get("/projects/"+args[0]+"/functions", &resp); err != nil {
		return err
	}
	if len(resp.Functions) == 0 {
		fmt.Println("No functions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tENTRY\tSTATUS\tDESCRIPTION")
	for _, fn := range resp.Functions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", fn.Name, fn.Entry, fn.Status, fn.Description)
	}
	return w.Flush()
}
