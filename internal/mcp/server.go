package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mail-engine/internal/tools"
)

const (
	protocolVersion = "2024-11-05"

	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Version is reported in the initialize response
var Version = "dev"

// Server represents the MCP server
type Server struct {
	logger *logrus.Logger
	tools  *tools.Registry
}

// NewServer creates a new MCP server instance
func NewServer(registry *tools.Registry, logger *logrus.Logger) *Server {
	return &Server{
		logger: logger,
		tools:  registry,
	}
}

// Run starts the MCP server with stdio transport
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server with stdio transport")
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// responses to w until r is exhausted or ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	decoder := json.NewDecoder(r)
	encoder := json.NewEncoder(w)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req map[string]interface{}
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				// the decoder cannot resync after malformed input
				s.logger.WithError(err).Error("Failed to decode request")
				_ = encoder.Encode(errorResponse(nil, codeParseError, "Parse error"))
				return fmt.Errorf("malformed request stream: %w", err)
			}
			s.logger.WithError(err).Error("Failed to decode request")
			continue
		}

		resp := s.handleRequest(ctx, req)
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("failed to encode response: %w", err)
		}
	}
}

// handleRequest processes an MCP request. Notifications (requests without
// an id) get no response.
func (s *Server) handleRequest(ctx context.Context, req map[string]interface{}) map[string]interface{} {
	method, _ := req["method"].(string)
	id, hasID := req["id"]
	if !hasID {
		s.logger.WithField("method", method).Debug("Received notification")
		return nil
	}

	switch method {
	case "initialize":
		return resultResponse(id, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "mail-engine",
				"version": Version,
			},
		})

	case "ping":
		return resultResponse(id, map[string]interface{}{})

	case "tools/list":
		return resultResponse(id, map[string]interface{}{
			"tools": s.tools.GetToolDefinitions(),
		})

	case "tools/call":
		return s.callTool(ctx, id, req)

	default:
		return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Method not found: %s", method))
	}
}

func (s *Server) callTool(ctx context.Context, id interface{}, req map[string]interface{}) map[string]interface{} {
	params, _ := req["params"].(map[string]interface{})
	toolName, _ := params["name"].(string)
	if toolName == "" {
		return errorResponse(id, codeInvalidParams, "Tool name is required")
	}
	arguments, _ := params["arguments"].(map[string]interface{})

	tool, exists := s.tools.GetTool(toolName)
	if !exists {
		return errorResponse(id, codeMethodNotFound, fmt.Sprintf("Tool not found: %s", toolName))
	}

	log := s.logger.WithField("tool", toolName)
	result, err := tool.Execute(ctx, arguments)
	if err != nil {
		log.WithError(err).Warn("Tool call failed")
		return errorResponse(id, codeInternalError, err.Error())
	}

	// Serialize result to JSON string for text content
	resultJSON, err := json.Marshal(result)
	if err != nil {
		resultJSON = []byte(fmt.Sprintf("%v", result))
	}

	return resultResponse(id, map[string]interface{}{
		"content": []map[string]interface{}{
			{
				"type": "text",
				"text": string(resultJSON),
			},
		},
	})
}

func resultResponse(id, result interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	}
}

func errorResponse(id interface{}, code int, message string) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	}
}
