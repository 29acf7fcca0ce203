package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type cmdStatus struct {
	global *cmdGlobal

	flagHTTPAddr string
}

func (c *cmdStatus) Command() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Use = "status"
	cmd.Short = "List managed units and their state"
	cmd.Long = `Description:
  List managed units and their state

  Queries a running socketunitd's control bus and prints each unit's
  active state, sub-state and last result.
`
	cmd.RunE = c.Run
	cmd.Flags().StringVar(&c.flagHTTPAddr, "http", "127.0.0.1:7424", "Address of the running daemon's control bus")

	return cmd
}

type unitStatus struct {
	ID       string `json:"id"`
	Active   string `json:"active"`
	SubState string `json:"subState"`
	Result   string `json:"result"`
}

func (c *cmdStatus) Run(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(fmt.Sprintf("http://%s/units", c.flagHTTPAddr))
	if err != nil {
		return fmt.Errorf("query %s: %w", c.flagHTTPAddr, err)
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: unexpected status %s", c.flagHTTPAddr, resp.Status)
	}

	var units []unitStatus
	if err := json.NewDecoder(resp.Body).Decode(&units); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"UNIT", "ACTIVE", "SUB", "RESULT"})

	for _, u := range units {
		table.Append([]string{u.ID, u.Active, u.SubState, u.Result})
	}

	table.Render()

	return nil
}
