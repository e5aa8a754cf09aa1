package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/weave-editor/weave/internal/proposal"
)

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "approve a staged proposal and apply its edits",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

var denyCmd = &cobra.Command{
	Use:   "deny <request-id>",
	Short: "deny a staged proposal without applying it",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runApprove(cmd *cobra.Command, args []string) error {
	return runTransition(args[0], func(m *mesh, id uuid.UUID) { m.centralDisp.Approve(id) })
}

func runDeny(cmd *cobra.Command, args []string) error {
	return runTransition(args[0], func(m *mesh, id uuid.UUID) { m.centralDisp.Deny(id) })
}

func runTransition(rawID string, dispatch func(m *mesh, id uuid.UUID)) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("parse request id: %w", err)
	}

	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	m, err := buildMesh(ws)
	if err != nil {
		return err
	}
	defer m.Close()

	if _, ok := m.registry.Get(id); !ok {
		return fmt.Errorf("no proposal with request id %s", id)
	}

	dispatch(m, id)

	var final *proposal.EditProposal
	for i := 0; i < 50; i++ {
		p, ok := m.registry.Get(id)
		if ok && p.Status != proposal.StatusPending && p.Status != proposal.StatusApproved {
			final = p
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if final == nil {
		final, _ = m.registry.Get(id)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(final)
}
