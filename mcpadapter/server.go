// Package mcpadapter exposes the collaboration core's block operations as
// MCP tools, adapted from the teacher's mcp.NewWorkspaceServer: one
// server per document, logging middleware on every request, and one
// registered tool per kernel operation.
package mcpadapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"kaijutsu/blockstore"
	"kaijutsu/domain"
	"kaijutsu/kernel"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// InsertBlockParams mirrors blockstore.InsertBlock's arguments for MCP
// tool-call binding.
type InsertBlockParams struct {
	ParentId     string `json:"parentId,omitempty"`
	AfterSibling string `json:"afterSibling,omitempty"`
	Role         string `json:"role"`
	Kind         string `json:"kind"`
	Text         string `json:"text,omitempty"`
}

type AppendTextParams struct {
	BlockId string `json:"blockId"`
	Text    string `json:"text"`
}

type SetStatusParams struct {
	BlockId string `json:"blockId"`
	Status  string `json:"status"`
}

type DeleteBlockParams struct {
	BlockId string `json:"blockId"`
}

// Names lists every tool this server registers — the self-filter list the
// hook listener needs to avoid double-recording these calls (spec §4.6).
var Names = []string{"insert_block", "append_text", "set_status", "delete_block", "blocks_ordered"}

// NewDocumentServer creates an MCP server exposing block operations for
// one document, authenticated as principal and gated by the kernel's
// write lease and consent mode.
func NewDocumentServer(store *blockstore.Store, k *kernel.Kernel, ctx domain.ContextId, principal domain.PrincipalId) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "kaijutsu"}, &mcpsdk.ServerOptions{HasTools: true})

	server.AddReceivingMiddleware(func(next mcpsdk.MethodHandler) mcpsdk.MethodHandler {
		return func(reqCtx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
			log.Info().Str("contextId", string(ctx)).Str("principal", string(principal)).Str("method", method).Msg("mcpadapter: request")
			return next(reqCtx, method, req)
		}
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "insert_block",
		Description: "Insert a new block into the document",
	}, func(reqCtx context.Context, req *mcpsdk.CallToolRequest, args InsertBlockParams) (*mcpsdk.CallToolResult, any, error) {
		return handleInsertBlock(reqCtx, store, k, ctx, principal, args)
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "append_text",
		Description: "Append streamed text to an existing block",
	}, func(reqCtx context.Context, req *mcpsdk.CallToolRequest, args AppendTextParams) (*mcpsdk.CallToolResult, any, error) {
		return handleAppendText(reqCtx, store, k, ctx, principal, args)
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "set_status",
		Description: "Update a block's lifecycle status",
	}, func(reqCtx context.Context, req *mcpsdk.CallToolRequest, args SetStatusParams) (*mcpsdk.CallToolResult, any, error) {
		return handleSetStatus(reqCtx, store, k, ctx, principal, args)
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "delete_block",
		Description: "Tombstone a block",
	}, func(reqCtx context.Context, req *mcpsdk.CallToolRequest, args DeleteBlockParams) (*mcpsdk.CallToolResult, any, error) {
		return handleDeleteBlock(reqCtx, store, k, ctx, principal, args)
	})

	mcpsdk.AddTool(server, &mcpsdk.Tool{
		Name:        "blocks_ordered",
		Description: "Return every visible block in document order",
	}, func(reqCtx context.Context, req *mcpsdk.CallToolRequest, args struct{}) (*mcpsdk.CallToolResult, any, error) {
		return handleBlocksOrdered(reqCtx, store, ctx)
	})

	return server
}

func parseBlockId(ctx domain.ContextId, s string) (domain.BlockId, error) {
	rest, ok := strings.CutPrefix(s, string(ctx)+":")
	sep := strings.LastIndex(rest, ":")
	if !ok || sep <= 0 {
		return domain.BlockId{}, fmt.Errorf("mcpadapter: malformed block id %q", s)
	}
	seq, err := strconv.ParseUint(rest[sep+1:], 10, 64)
	if err != nil {
		return domain.BlockId{}, fmt.Errorf("mcpadapter: malformed block id %q: %w", s, err)
	}
	return domain.BlockId{ContextId: ctx, PrincipalId: domain.PrincipalId(rest[:sep]), Sequence: seq}, nil
}

func textResult(text string) (*mcpsdk.CallToolResult, any, error) {
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}}}, nil, nil
}

func errResult(err error) (*mcpsdk.CallToolResult, any, error) {
	return &mcpsdk.CallToolResult{IsError: true, Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}}}, nil, nil
}

func handleInsertBlock(ctx context.Context, store *blockstore.Store, k *kernel.Kernel, docId domain.ContextId, principal domain.PrincipalId, args InsertBlockParams) (*mcpsdk.CallToolResult, any, error) {
	if err := k.CheckLease(docId, principal); err != nil {
		return errResult(err)
	}
	var parent, after *domain.BlockId
	if args.ParentId != "" {
		id, err := parseBlockId(docId, args.ParentId)
		if err != nil {
			return errResult(err)
		}
		parent = &id
	}
	if args.AfterSibling != "" {
		id, err := parseBlockId(docId, args.AfterSibling)
		if err != nil {
			return errResult(err)
		}
		after = &id
	}
	b, err := store.InsertBlock(docId, parent, after, domain.Role(args.Role), domain.Kind(args.Kind), principal, args.Text)
	if err != nil {
		return errResult(err)
	}
	return textResult(b.Id.String())
}

func handleAppendText(ctx context.Context, store *blockstore.Store, k *kernel.Kernel, docId domain.ContextId, principal domain.PrincipalId, args AppendTextParams) (*mcpsdk.CallToolResult, any, error) {
	if err := k.CheckLease(docId, principal); err != nil {
		return errResult(err)
	}
	id, err := parseBlockId(docId, args.BlockId)
	if err != nil {
		return errResult(err)
	}
	if err := store.AppendText(docId, id, args.Text); err != nil {
		return errResult(err)
	}
	return textResult("ok")
}

func handleSetStatus(ctx context.Context, store *blockstore.Store, k *kernel.Kernel, docId domain.ContextId, principal domain.PrincipalId, args SetStatusParams) (*mcpsdk.CallToolResult, any, error) {
	if err := k.CheckLease(docId, principal); err != nil {
		return errResult(err)
	}
	id, err := parseBlockId(docId, args.BlockId)
	if err != nil {
		return errResult(err)
	}
	if err := store.SetStatus(docId, id, principal, domain.Status(args.Status)); err != nil {
		return errResult(err)
	}
	return textResult("ok")
}

func handleDeleteBlock(ctx context.Context, store *blockstore.Store, k *kernel.Kernel, docId domain.ContextId, principal domain.PrincipalId, args DeleteBlockParams) (*mcpsdk.CallToolResult, any, error) {
	if err := k.CheckLease(docId, principal); err != nil {
		return errResult(err)
	}
	id, err := parseBlockId(docId, args.BlockId)
	if err != nil {
		return errResult(err)
	}
	if err := store.DeleteBlock(docId, id, principal); err != nil {
		return errResult(err)
	}
	return textResult("ok")
}

func handleBlocksOrdered(ctx context.Context, store *blockstore.Store, docId domain.ContextId) (*mcpsdk.CallToolResult, any, error) {
	blocks, err := store.BlocksOrdered(docId)
	if err != nil {
		return errResult(err)
	}
	ids := make([]string, len(blocks))
	for i, b := range blocks {
		ids[i] = b.Id.String()
	}
	return textResult(fmt.Sprintf("%v", ids))
}
