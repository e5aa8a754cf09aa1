package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/weave-editor/weave/internal/config"
	"github.com/weave-editor/weave/internal/dispatcher"
	"github.com/weave-editor/weave/internal/eventbus"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run a long-lived mesh reading NDJSON commands from stdin",
	Long: `serve reads newline-delimited JSON command envelopes from stdin
and writes newline-delimited JSON lifecycle events to stdout until stdin
is closed. It keeps the proposal registry and observability store open
for the lifetime of the process, so tool calls in one envelope can be
approved or denied by a later one in the same session.`,
	RunE: runServe,
}

// inboundEnvelope is one line of serve's stdin protocol.
type inboundEnvelope struct {
	Kind string `json:"kind"`

	// kind == "tool_call"
	ToolName  string         `json:"tool_name,omitempty"`
	RequestID uuid.UUID      `json:"request_id,omitempty"`
	ParentID  uuid.UUID      `json:"parent_id,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Vendor    string         `json:"vendor,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// kind == "approve" | "deny"
	ApprovalRequestID uuid.UUID `json:"approval_request_id,omitempty"`

	// kind == "set_preview_mode"
	PreviewMode string `json:"preview_mode,omitempty"`

	// kind == "set_max_preview_lines"
	MaxPreviewLines uint32 `json:"max_preview_lines,omitempty"`

	// kind == "set_auto_confirm"
	AutoConfirm bool `json:"auto_confirm,omitempty"`
}

// outboundEnvelope is one line of serve's stdout protocol.
type outboundEnvelope struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

func runServe(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	m, err := buildMesh(ws)
	if err != nil {
		return err
	}
	defer m.Close()

	sub := m.bus.Subscribe(eventbus.PriorityRealtime)
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range sub {
			writeEnvelope(out, "event", env.Payload)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var in inboundEnvelope
		if err := json.Unmarshal(line, &in); err != nil {
			writeEnvelope(out, "error", fmt.Sprintf("malformed envelope: %v", err))
			continue
		}
		handleInbound(cmd.Context(), m, &in)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("read stdin: %w", err)
	}

	return nil
}

func handleInbound(ctx context.Context, m *mesh, in *inboundEnvelope) {
	switch in.Kind {
	case "tool_call":
		m.centralDisp.RouteToolCall(dispatcher.ToolRequested{
			Name:      in.ToolName,
			RequestID: in.RequestID,
			ParentID:  in.ParentID,
			CallID:    in.CallID,
			Vendor:    in.Vendor,
			Arguments: in.Arguments,
		})
	case "approve":
		m.centralDisp.Approve(in.ApprovalRequestID)
	case "deny":
		m.centralDisp.Deny(in.ApprovalRequestID)
	case "set_preview_mode":
		mode := config.PreviewCodeBlocks
		if in.PreviewMode == "unified_diff" {
			mode = config.PreviewUnifiedDiff
		}
		m.centralDisp.SetEditingPreviewMode(mode)
	case "set_max_preview_lines":
		m.centralDisp.SetEditingMaxPreviewLines(in.MaxPreviewLines)
	case "set_auto_confirm":
		m.centralDisp.SetEditingAutoConfirm(in.AutoConfirm)
	}
}

func writeEnvelope(out *bufio.Writer, kind string, data any) {
	line, err := json.Marshal(outboundEnvelope{Kind: kind, Data: data})
	if err != nil {
		return
	}
	out.Write(line)
	out.WriteByte('\n')
	out.Flush()
}
