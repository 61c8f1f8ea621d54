// Package mcp exposes a weft ledger to MCP clients as tools and resources.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/logging"
	"github.com/aretw0/weft/pkg/domain"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ledgerURI is the resource describing the current epoch and its domains.
const ledgerURI = "weft://ledger"

// SubmitInput is the argument set of submit_interaction.
type SubmitInput struct {
	Caller     string `json:"caller" jsonschema_description:"Address of the sender or receiver submitting the task"`
	InstanceID uint64 `json:"instance_id" jsonschema_description:"Process instance"`
	TaskName   string `json:"task_name" jsonschema_description:"Task within the instance"`
}

// SubmitResult reports the assigned index.
type SubmitResult struct {
	Index uint64 `json:"index"`
}

// VoteInput is the argument set of vote and vote_external.
type VoteInput struct {
	Caller string   `json:"caller" jsonschema_description:"Orderer address"`
	Domain uint64   `json:"domain,omitempty" jsonschema_description:"Domain to vote on (ignored by vote_external)"`
	Order  []uint64 `json:"order" jsonschema_description:"Proposed order of interaction indices"`
}

// TickInput is the argument set of tick.
type TickInput struct {
	Blocks int `json:"blocks,omitempty" jsonschema_description:"Number of blocks to advance (default 1)"`
}

// DomainInput selects a domain.
type DomainInput struct {
	Domain  uint64 `json:"domain"`
	Address string `json:"address,omitempty"`
}

// LedgerView is the content of the ledger resource.
type LedgerView struct {
	Epoch   domain.Epoch            `json:"epoch"`
	Pending []uint64                `json:"pending"`
	Domains []domain.DomainSnapshot `json:"domains"`
}

// Server wraps a ledger and exposes it as an MCP server.
type Server struct {
	ledger    ports.Sequencer
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates an MCP server for ledger.
func NewServer(ledger ports.Sequencer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		ledger: ledger,
		mcpServer: server.NewMCPServer("weft-mcp", strings.TrimSpace(weft.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
		),
		logger: logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio serves on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// ServeSSE serves over SSE on addr until ctx ends.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL("http://"+addr))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("submit_interaction",
		mcp.WithDescription("Submit a task of a process instance to the ordering pool."),
		mcp.WithInputSchema[SubmitInput](),
		mcp.WithOutputSchema[SubmitResult](),
	), s.submitHandler())

	s.mcpServer.AddTool(mcp.NewTool("vote",
		mcp.WithDescription("Propose an order for a domain's pending interactions."),
		mcp.WithInputSchema[VoteInput](),
		mcp.WithOutputSchema[domain.VoteResult](),
	), s.voteHandler(false))

	s.mcpServer.AddTool(mcp.NewTool("vote_external",
		mcp.WithDescription("Propose an order for the whole pool as a designated external orderer."),
		mcp.WithInputSchema[VoteInput](),
		mcp.WithOutputSchema[domain.VoteResult](),
	), s.voteHandler(true))

	s.mcpServer.AddTool(mcp.NewTool("release_all",
		mcp.WithDescription("Commit every domain that needs no vote."),
	), s.releaseAllHandler())

	s.mcpServer.AddTool(mcp.NewTool("tick",
		mcp.WithDescription("Advance the ledger clock."),
		mcp.WithInputSchema[TickInput](),
		mcp.WithOutputSchema[domain.Epoch](),
	), s.tickHandler())

	s.mcpServer.AddTool(mcp.NewTool("get_domain",
		mcp.WithDescription("Describe a domain. With an address, list the interactions that orderer may order."),
		mcp.WithInputSchema[DomainInput](),
	), s.domainHandler())
}

func (s *Server) submitHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input SubmitInput
		if err := request.BindArguments(&input); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid submit arguments", err), nil
		}
		idx, err := s.ledger.Submit(ctx, input.Caller, domain.TaskKey{InstanceID: input.InstanceID, TaskName: input.TaskName})
		if err != nil {
			return mcp.NewToolResultErrorFromErr("submit failed", err), nil
		}
		return mcp.NewToolResultStructuredOnly(SubmitResult{Index: idx}), nil
	}
}

func (s *Server) voteHandler(external bool) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input VoteInput
		if err := request.BindArguments(&input); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid vote arguments", err), nil
		}

		var (
			res domain.VoteResult
			err error
		)
		if external {
			res, err = s.ledger.VoteExternal(ctx, input.Caller, input.Order)
		} else {
			if input.Domain == 0 {
				return mcp.NewToolResultError("domain is required"), nil
			}
			res, err = s.ledger.Vote(ctx, input.Caller, domain.DomainID(input.Domain), input.Order)
		}
		if err != nil {
			return mcp.NewToolResultErrorFromErr("vote failed", err), nil
		}
		return mcp.NewToolResultStructuredOnly(res), nil
	}
}

func (s *Server) releaseAllHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		commits, err := s.ledger.ReleaseAll(ctx)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("release failed", err), nil
		}
		return jsonResult(commits)
	}
}

// maxTickBlocks bounds one tick call; every block is a locked ledger write.
const maxTickBlocks = 1000

func (s *Server) tickHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input := TickInput{Blocks: 1}
		if err := request.BindArguments(&input); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid tick arguments", err), nil
		}
		if input.Blocks < 1 {
			input.Blocks = 1
		}
		if input.Blocks > maxTickBlocks {
			return mcp.NewToolResultError(fmt.Sprintf("at most %d blocks per call", maxTickBlocks)), nil
		}

		var ep domain.Epoch
		for range input.Blocks {
			var err error
			if ep, err = s.ledger.Tick(ctx); err != nil {
				return mcp.NewToolResultErrorFromErr("tick failed", err), nil
			}
		}
		return mcp.NewToolResultStructuredOnly(ep), nil
	}
}

func (s *Server) domainHandler() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var input DomainInput
		if err := request.BindArguments(&input); err != nil {
			return mcp.NewToolResultErrorFromErr("invalid domain arguments", err), nil
		}
		id := domain.DomainID(input.Domain)
		if input.Address != "" {
			pending, err := s.ledger.PendingFor(ctx, id, input.Address)
			if err != nil {
				return mcp.NewToolResultErrorFromErr("pending lookup failed", err), nil
			}
			return jsonResult(pending)
		}
		d, err := s.ledger.Domain(ctx, id)
		if err != nil {
			return mcp.NewToolResultErrorFromErr("domain lookup failed", err), nil
		}
		return jsonResult(d)
	}
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(ledgerURI, "Current epoch and domains",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		view, err := s.view(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read ledger: %w", err)
		}
		data, err := json.Marshal(view)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: ledgerURI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}

func (s *Server) view(ctx context.Context) (LedgerView, error) {
	ep, err1 := s.ledger.Epoch(ctx)
	pending, err2 := s.ledger.Pending(ctx)
	domains, err3 := s.ledger.Domains(ctx)
	if err := errors.Join(err1, err2, err3); err != nil {
		return LedgerView{}, err
	}
	return LedgerView{Epoch: ep, Pending: pending, Domains: domains}, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("encode failed", err), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
