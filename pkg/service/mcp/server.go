// Package mcp exposes guide generation and history as Model Context
// Protocol tools, over stdio or streamable HTTP.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/usecase/guide"
	"github.com/m-mizutani/playbot/pkg/usecase/history"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ToolGenerateGuide = "generate_guide"
	ToolListHistory   = "list_history"
)

type generateGuideInput struct {
	GameName  string `json:"gameName" jsonschema:"Name of the game"`
	GuideType string `json:"guideType" jsonschema:"Kind of guide to write"`
	Platform  string `json:"platform" jsonschema:"Platform the guide targets"`
}

type listHistoryInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Number of entries to return, at most 10"`
}

// Service holds the use cases served as tools
type Service struct {
	guide    *guide.UseCase
	history  *history.UseCase
	server   *mcp.Server
	autoSave bool
}

// Option is a functional option for Service
type Option func(*Service)

// WithAutoSave makes generate_guide record history in the background after a
// successful generation. The history use case's auto-save policy still applies.
func WithAutoSave(enabled bool) Option {
	return func(s *Service) {
		s.autoSave = enabled
	}
}

// New builds an MCP server with the playbot tools registered
func New(guideUC *guide.UseCase, historyUC *history.UseCase, version string, opts ...Option) (*Service, error) {
	s := &Service{
		guide:   guideUC,
		history: historyUC,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "playbot",
			Version: version,
		}, nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	schema, err := generateGuideSchema()
	if err != nil {
		return nil, err
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolGenerateGuide,
		Description: "Write a markdown game guide grounded on Google Search results and list its sources",
		InputSchema: schema,
	}, s.generateGuide)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        ToolListHistory,
		Description: "List recently generated guides, newest first",
	}, s.listHistory)

	return s, nil
}

// generateGuideSchema derives the input schema from generateGuideInput and
// restricts guide type and platform to their wire values
func generateGuideSchema() (*jsonschema.Schema, error) {
	schema, err := jsonschema.For[generateGuideInput](nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build generate_guide schema")
	}

	guideTypes := make([]any, 0, len(model.GuideTypes))
	for _, v := range model.GuideTypes {
		guideTypes = append(guideTypes, string(v))
	}
	platforms := make([]any, 0, len(model.Platforms))
	for _, v := range model.Platforms {
		platforms = append(platforms, string(v))
	}

	schema.Properties["guideType"].Enum = guideTypes
	schema.Properties["platform"].Enum = platforms
	return schema, nil
}

// Server returns the underlying MCP server
func (s *Service) Server() *mcp.Server {
	return s.server
}

// Run serves over stdin/stdout until ctx is canceled or the client leaves.
// Pending background history writes are drained before it returns.
func (s *Service) Run(ctx context.Context) error {
	defer s.Wait()

	if err := s.server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "mcp server stopped")
	}
	return nil
}

// Wait blocks until background history writes have finished
func (s *Service) Wait() {
	s.history.Wait()
}

// HTTPHandler serves the tools with the streamable HTTP transport
func (s *Service) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}

func (s *Service) generateGuide(ctx context.Context, _ *mcp.CallToolRequest, in generateGuideInput) (*mcp.CallToolResult, any, error) {
	guideType, err := model.ParseGuideType(in.GuideType)
	if err != nil {
		return textResult(err.Error(), true), nil, nil
	}
	platform, err := model.ParsePlatform(in.Platform)
	if err != nil {
		return textResult(err.Error(), true), nil, nil
	}
	req := model.GuideRequest{
		GameName:  strings.TrimSpace(in.GameName),
		GuideType: guideType,
		Platform:  platform,
	}

	result, err := s.guide.Generate(ctx, req)
	if err != nil {
		logging.From(ctx).Warn("generate_guide failed", "error", err)
		return textResult(err.Error(), true), nil, nil
	}

	if s.autoSave {
		s.history.RecordAsync(ctx, history.RecordInput{
			GameName:  req.GameName,
			GuideType: req.GuideType,
			Platform:  req.Platform,
			Guide:     result.Guide,
		})
	}

	var b strings.Builder
	b.WriteString(result.Guide)
	if len(result.References) > 0 {
		b.WriteString("\n\n## Sources\n")
		for i, ref := range result.References {
			fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, ref.Title, ref.URI)
		}
	}

	return textResult(b.String(), false), nil, nil
}

func (s *Service) listHistory(ctx context.Context, _ *mcp.CallToolRequest, in listHistoryInput) (*mcp.CallToolResult, any, error) {
	items, err := s.history.ListRecent(ctx, in.Limit)
	if err != nil {
		logging.From(ctx).Warn("list_history failed", "error", err)
		return textResult(err.Error(), true), nil, nil
	}
	if len(items) == 0 {
		return textResult("No history found", false), nil, nil
	}

	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "%d. %s: %s (%s) at %s\n",
			item.ID, item.GameName, item.GuideType.Label(), item.Platform,
			item.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		)
	}
	return textResult(b.String(), false), nil, nil
}
