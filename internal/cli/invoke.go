package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(invokeCmd)
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <project> <function> [payload]",
	Short: "Invoke a function synchronously",
	Long:  `Invoke a function and print its result. The optional payload is a JSON document.`,
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runInvoke,
}

func runInvoke(cmd *cobra.Command, args []string) error {
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

	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	path := fmt.Sprintf("/projects/%s/functions/%s/invoke", args[0], args[1])
	if err := c.post(path, payload, &resp); err != nil {
		return err
	}
	printJSON(resp.Result)
	return nil
}
