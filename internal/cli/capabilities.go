package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vrcbridge/vrcbridge/internal/capability"
	"github.com/vrcbridge/vrcbridge/internal/policy"
	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

var capabilitiesJSON bool

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Show which capabilities and commands each tracked group has",
	RunE:  runCapabilities,
}

func init() {
	capabilitiesCmd.Flags().BoolVar(&capabilitiesJSON, "json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(capabilitiesCmd)
}

type capabilityState struct {
	Capability string   `json:"capability"`
	Enabled    bool     `json:"enabled"`
	Reason     string   `json:"reason"`
	Missing    []string `json:"missing,omitempty"`
}

type groupCapabilities struct {
	GroupID      string            `json:"groupId"`
	Name         string            `json:"name"`
	Permissions  []string          `json:"permissions"`
	Capabilities []capabilityState `json:"capabilities"`
	Commands     []string          `json:"commands"`
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	b, err := newBridge(cfg, bridgeOptions{Sender: jsonSender(io.Discard), NoLedger: true})
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.refresh(cmd.Context()); err != nil {
		return err
	}

	rows := capabilityMatrix(b.registry.All(), b.evaluator)
	if capabilitiesJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	printCapabilityMatrix(cmd.OutOrStdout(), b.evaluator.Registry.Capabilities(), rows)
	return nil
}

// capabilityMatrix evaluates every registered capability for every group.
func capabilityMatrix(groups []vrchat.Group, ev *policy.Evaluator) []groupCapabilities {
	rows := make([]groupCapabilities, 0, len(groups))
	for _, g := range groups {
		row := groupCapabilities{GroupID: g.ID, Name: g.Name, Permissions: []string{}, Commands: []string{}}
		for _, p := range g.Permissions.Sorted() {
			row.Permissions = append(row.Permissions, string(p))
		}
		for _, c := range ev.Registry.Capabilities() {
			d := ev.Evaluate(g, c)
			st := capabilityState{Capability: string(c), Enabled: d.Allow, Reason: d.Reason}
			for _, p := range d.Missing {
				st.Missing = append(st.Missing, string(p))
			}
			row.Capabilities = append(row.Capabilities, st)
		}
		for _, c := range ev.EnabledCommands(g) {
			row.Commands = append(row.Commands, c.Name)
		}
		rows = append(rows, row)
	}
	return rows
}

func printCapabilityMatrix(w io.Writer, caps []capability.Capability, rows []groupCapabilities) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"GROUP", "NAME"}
	for _, c := range caps {
		header = append(header, string(c))
	}
	header = append(header, "COMMANDS")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, row := range rows {
		cells := []string{row.GroupID, row.Name}
		for _, st := range row.Capabilities {
			if st.Enabled {
				cells = append(cells, color.GreenString("yes"))
			} else {
				cells = append(cells, color.RedString("no"))
			}
		}
		cmds := strings.Join(row.Commands, ", ")
		if cmds == "" {
			cmds = "-"
		}
		cells = append(cells, cmds)
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	// Explain why each disabled capability is off.
	for _, row := range rows {
		for _, st := range row.Capabilities {
			if !st.Enabled {
				fmt.Fprintf(w, "%s %s: %s\n", row.GroupID, st.Capability, st.Reason)
			}
		}
	}
}
