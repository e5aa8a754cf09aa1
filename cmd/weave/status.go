package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/weave-editor/weave/internal/proposal"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "list staged proposals by status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	m, err := buildMesh(ws)
	if err != nil {
		return err
	}
	defer m.Close()

	statuses := []proposal.Status{
		proposal.StatusPending,
		proposal.StatusApproved,
		proposal.StatusDenied,
		proposal.StatusApplied,
		proposal.StatusFailed,
	}

	out := make(map[proposal.Status][]*proposal.EditProposal, len(statuses))
	for _, s := range statuses {
		out[s] = m.registry.IterByStatus(s)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
