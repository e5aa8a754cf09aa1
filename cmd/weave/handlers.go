package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weave-editor/weave/internal/dispatcher"
	"github.com/weave-editor/weave/internal/ioactor"
	"github.com/weave-editor/weave/internal/staging"
)

// decodeArguments round-trips a tool call's argument map through JSON into
// a concrete struct, since the dispatcher hands handlers a map[string]any
// rather than a typed payload.
func decodeArguments(args map[string]any, into any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode tool arguments: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}
	return nil
}

// applyEditOutcome is the egress shape for a successful apply_code_edit call.
type applyEditOutcome struct {
	Staged bool     `json:"staged"`
	Status string   `json:"status"`
	Files  []string `json:"files"`
	Mode   string   `json:"preview_mode"`
}

func applyCodeEditHandler(h *staging.Handler) dispatcher.Handler {
	return func(ctx context.Context, req dispatcher.ToolRequested) (any, error) {
		var edit staging.ApplyCodeEditRequest
		if err := decodeArguments(req.Arguments, &edit); err != nil {
			return nil, err
		}

		p, err := h.Stage(ctx, req.RequestID, req.ParentID, req.CallID, edit)
		if err != nil {
			return nil, err
		}

		return applyEditOutcome{
			Staged: true,
			Status: string(p.Status),
			Files:  p.Files,
			Mode:   string(p.Preview.Mode),
		}, nil
	}
}

// createFileRequest is the deserialized shape of the create_file tool
// call's arguments.
type createFileRequest struct {
	FilePath      string `json:"file_path"`
	Content       string `json:"content"`
	OnExists      string `json:"on_exists,omitempty"`
	CreateParents bool   `json:"create_parents,omitempty"`
}

type createFileOutcome struct {
	Created bool   `json:"created"`
	Hash    string `json:"hash"`
}

func createFileHandler(ioAct *ioactor.Actor) dispatcher.Handler {
	return func(ctx context.Context, req dispatcher.ToolRequested) (any, error) {
		var cf createFileRequest
		if err := decodeArguments(req.Arguments, &cf); err != nil {
			return nil, err
		}

		policy := ioactor.OnExistsError
		if cf.OnExists == "overwrite" {
			policy = ioactor.OnExistsOverwrite
		}

		hash, err := ioAct.CreateFile(ctx, cf.FilePath, []byte(cf.Content), policy, cf.CreateParents)
		if err != nil {
			return nil, err
		}

		return createFileOutcome{Created: true, Hash: hash}, nil
	}
}

// getFileMetadataRequest is the deserialized shape of the
// get_file_metadata tool call's arguments.
type getFileMetadataRequest struct {
	FilePath string `json:"file_path"`
}

type fileMetadataOutcome struct {
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

func getFileMetadataHandler(ioAct *ioactor.Actor) dispatcher.Handler {
	return func(ctx context.Context, req dispatcher.ToolRequested) (any, error) {
		var gm getFileMetadataRequest
		if err := decodeArguments(req.Arguments, &gm); err != nil {
			return nil, err
		}

		meta, err := ioAct.Metadata(ctx, gm.FilePath)
		if err != nil {
			return nil, err
		}

		return fileMetadataOutcome{Exists: meta.Exists, SizeBytes: meta.SizeBytes, Hash: meta.Hash}, nil
	}
}
