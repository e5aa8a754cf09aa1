// Package main implements the weave CLI: the entry point that wires
// every mesh actor together (IO Actor, Proposal Registry, Tool
// Dispatcher, Edit Staging Handler, Approval Executor, Event Bus,
// Observability Store, Central Dispatcher) and exposes them through a
// small cobra command tree.
//
// # File Index
//
//   - main.go   - entry point, rootCmd, global flags, mesh wiring
//   - handlers.go - tool handlers: apply_code_edit, create_file, get_file_metadata
//   - serve.go  - serve command: long-running tool-call/command loop
//   - approve.go - approve/deny commands: one-shot registry mutation
//   - status.go - status command: lists staged proposals
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/weave-editor/weave/internal/approval"
	"github.com/weave-editor/weave/internal/central"
	"github.com/weave-editor/weave/internal/codegraph"
	"github.com/weave-editor/weave/internal/config"
	"github.com/weave-editor/weave/internal/dispatcher"
	"github.com/weave-editor/weave/internal/eventbus"
	"github.com/weave-editor/weave/internal/ioactor"
	"github.com/weave-editor/weave/internal/logging"
	"github.com/weave-editor/weave/internal/observability"
	"github.com/weave-editor/weave/internal/proposal"
	"github.com/weave-editor/weave/internal/rescan"
	"github.com/weave-editor/weave/internal/staging"
)

var (
	verbose   bool
	workspace string
	timeout   time.Duration

	zapLogger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "weave",
	Short: "weave - a concurrent, auditable code-editing core for LLM tool calls",
	Long: `weave turns apply_code_edit tool calls into staged, human-approvable
proposals and applies them atomically once approved; create_file calls
are written directly, without a proposal. It opens an observability
database under .weave, but no command records tool-call lifecycles in it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		zapLogger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		if err := logging.Configure(ws, verbose); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to configure file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if zapLogger != nil {
			_ = zapLogger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root (default: current directory)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 25*time.Minute, "operation timeout (parsed, but not applied to any operation)")

	rootCmd.AddCommand(serveCmd, approveCmd, denyCmd, statusCmd)
}

func resolveWorkspace() (string, error) {
	if workspace == "" {
		return os.Getwd()
	}
	return filepath.Abs(workspace)
}

// mesh bundles every wired actor a command needs. Built fresh per
// invocation: the proposal sidecar and observability database are the
// only state that survives between CLI runs.
type mesh struct {
	cfg          *config.Config
	ioActor      *ioactor.Actor
	registry     *proposal.Registry
	obsStore     *observability.Store
	bus          *eventbus.Bus
	toolDispatch *dispatcher.Dispatcher
	stagingH     *staging.Handler
	approvalExec *approval.Executor
	centralDisp  *central.Dispatcher
	rescanW      *rescan.Watcher
}

// buildMesh wires every actor together per the workspace's configuration,
// restoring the proposal registry and opening the observability store.
func buildMesh(ws string) (*mesh, error) {
	cfgPath := filepath.Join(ws, ".weave", "config.yaml")
	cfg, err := config.Load(cfgPath, ws)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	weaveDir := filepath.Join(ws, ".weave")
	if err := os.MkdirAll(weaveDir, 0o755); err != nil {
		return nil, fmt.Errorf("create .weave directory: %w", err)
	}

	ioAct := ioactor.New(cfg.IO.Roots, cfg.IO.SymlinkPolicy)

	registry := proposal.NewRegistry(weaveDir)
	if err := registry.Restore(); err != nil {
		return nil, fmt.Errorf("restore proposal registry: %w", err)
	}

	obsStore, err := observability.Open(filepath.Join(ws, cfg.Observability.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open observability store: %w", err)
	}

	bus := eventbus.New()
	toolSink := eventbus.DispatcherSink{Bus: bus}
	approvalSink := eventbus.ApprovalSink{Bus: bus}

	toolDispatch := dispatcher.New(registry, toolSink)
	approvalExec := approval.New(registry, ioAct, approvalSink)

	resolver := codegraph.NewStaticResolver()

	centralDisp := central.New(cfg, approvalExec, ioAct, toolDispatch)
	stagingH := staging.New(ioAct, resolver, registry, centralDisp, ws, cfg.Editing)

	centralDisp.RegisterToolHandler("apply_code_edit", applyCodeEditHandler(stagingH))
	centralDisp.RegisterToolHandler("create_file", createFileHandler(ioAct))
	centralDisp.RegisterToolHandler("get_file_metadata", getFileMetadataHandler(ioAct))

	rescanW, err := rescan.New(bus.Subscribe(eventbus.PriorityBackground))
	if err != nil {
		return nil, fmt.Errorf("start rescan watcher: %w", err)
	}

	return &mesh{
		cfg:          cfg,
		ioActor:      ioAct,
		registry:     registry,
		obsStore:     obsStore,
		bus:          bus,
		toolDispatch: toolDispatch,
		stagingH:     stagingH,
		approvalExec: approvalExec,
		centralDisp:  centralDisp,
		rescanW:      rescanW,
	}, nil
}

func (m *mesh) Close() {
	m.centralDisp.Stop()
	_ = m.rescanW.Close()
	if m.obsStore != nil {
		_ = m.obsStore.Close()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
