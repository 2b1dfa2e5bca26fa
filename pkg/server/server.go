package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/richard-senior/podds/internal/logger"
	"github.com/richard-senior/podds/pkg/podds"
	"github.com/richard-senior/podds/pkg/protocol"
	"github.com/richard-senior/podds/pkg/tools"
	"github.com/richard-senior/podds/pkg/transport"
)

const (
	ServerName    = "podds"
	ServerVersion = "1.0.0"
	// used when the client doesn't ask for one
	defaultProtocolVersion = "2024-11-05"
)

// Server answers JSON-RPC requests over a transport using the engine's tools
type Server struct {
	transport    transport.Transport
	// protocol methods, dispatched on the request method
	handlers     map[string]tools.HandlerFunc
	// tools, reachable only through tools/call
	toolHandlers map[string]tools.HandlerFunc
	tools        []protocol.Tool
	mu           sync.Mutex
}

// NewServer creates a server with the engine's tools and the protocol handlers registered
func NewServer(t transport.Transport, engine *podds.Engine) *Server {
	s := &Server{
		transport:    t,
		handlers:     make(map[string]tools.HandlerFunc),
		toolHandlers: make(map[string]tools.HandlerFunc),
		tools:        []protocol.Tool{},
	}
	if engine != nil {
		for _, d := range tools.NewEngineTools(engine).Definitions() {
			s.RegisterTool(d.Tool, d.Handler)
		}
	}
	s.handlers[string(protocol.MethodInitialize)] = s.handleInitialize
	s.handlers[string(protocol.MethodInitialized)] = s.handleInitialized
	s.handlers[string(protocol.MethodToolsList)] = s.handleToolsList
	s.handlers[string(protocol.MethodToolsCall)] = s.handleToolsCall
	s.handlers[string(protocol.MethodPing)] = s.handlePing
	s.handlers[string(protocol.MethodShutdown)] = s.handlePing
	return s
}

// RegisterTool registers a tool with the server
func (s *Server) RegisterTool(tool protocol.Tool, handler tools.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = append(s.tools, tool)
	s.toolHandlers[tool.Name] = handler
	logger.Info("Registered tool:", tool.Name)
}

// GetTools returns the list of registered tools
func (s *Server) GetTools() []protocol.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Tool(nil), s.tools...)
}

func (s *Server) handler(name string) tools.HandlerFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers[name]
}

func (s *Server) toolHandler(name string) tools.HandlerFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolHandlers[name]
}

// Start processes requests until the input closes or the process is signalled
func (s *Server) Start() error {
	logger.Info("Starting podds server")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.ProcessRequests()
	}()

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		logger.Info("Received signal:", sig)
		return nil
	}
}

// ProcessRequests reads and answers requests until the transport is exhausted.
// A clean end of input returns nil.
func (s *Server) ProcessRequests() error {
	for {
		req, err := s.transport.ReadRequest()
		if errors.Is(err, io.EOF) {
			logger.Info("Input closed")
			return nil
		}
		if err != nil {
			var rpcErr *protocol.JsonRpcError
			if errors.As(err, &rpcErr) {
				// malformed request; report it and carry on
				if werr := s.transport.WriteResponse(protocol.NewJsonRpcErrorResponse(rpcErr.Code, rpcErr.Message, nil, nil)); werr != nil {
					return werr
				}
				continue
			}
			return err
		}

		// nil means no response is required
		resp := s.handleRequest(req)
		if resp == nil {
			continue
		}
		if err := s.transport.WriteResponse(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handleRequest(req *protocol.JsonRpcRequest) *protocol.JsonRpcResponse {
	logger.Info(">> ", req.Method)
	logger.Debug("Full request:", req.String())

	if strings.HasPrefix(req.Method, "notifications/") {
		logger.Info("Received notification:", req.Method)
		return nil
	}

	resp := &protocol.JsonRpcResponse{
		JsonRPC: protocol.JsonRpcVersion,
		ID:      req.ID,
	}

	handler := s.handler(req.Method)
	if handler == nil {
		resp.Error = &protocol.JsonRpcError{
			Code:    protocol.ErrMethodNotFound,
			Message: fmt.Sprintf("Method not found: %s", req.Method),
		}
		return resp
	}

	var params any
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &protocol.JsonRpcError{
				Code:    protocol.ErrInvalidParams,
				Message: "Invalid parameters: " + err.Error(),
			}
			return resp
		}
	}

	result, err := handler(params)
	if err == nil && result == nil {
		return nil
	}
	if err != nil {
		var rpcErr *protocol.JsonRpcError
		if errors.As(err, &rpcErr) {
			resp.Error = rpcErr
		} else {
			resp.Error = &protocol.JsonRpcError{Code: protocol.ErrToolExecutionFailed, Message: err.Error()}
		}
		return resp
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		resp.Error = &protocol.JsonRpcError{
			Code:    protocol.ErrInternal,
			Message: "Failed to marshal result: " + err.Error(),
		}
		return resp
	}
	resp.Result = resultBytes
	logger.Debug("Full response:", resp.String())
	return resp
}

func (s *Server) handleToolsList(params any) (any, error) {
	logger.Info("Handling tools/list request")
	return protocol.ToolsResponse{Tools: s.GetTools()}, nil
}

func (s *Server) handleInitialize(params any) (any, error) {
	version := defaultProtocolVersion
	if m, ok := params.(map[string]any); ok {
		if v, ok := m["protocolVersion"].(string); ok && v != "" {
			version = v
		}
	}
	logger.Info("Handling initialize request with", len(s.GetTools()), "tools, protocol", version)

	type serverInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	return struct {
		ProtocolVersion string         `json:"protocolVersion"`
		Capabilities    map[string]any `json:"capabilities"`
		ServerInfo      serverInfo     `json:"serverInfo"`
	}{
		ProtocolVersion: version,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo: serverInfo{Name: ServerName, Version: ServerVersion},
	}, nil
}

// 'initialized' does not require a response
func (s *Server) handleInitialized(params any) (any, error) {
	return nil, nil
}

// ping and shutdown both answer with an empty result
func (s *Server) handlePing(params any) (any, error) {
	return struct{}{}, nil
}

// handleToolsCall runs a tool and wraps its output as text content.
// Tool failures come back as an isError result rather than a JSON-RPC error.
func (s *Server) handleToolsCall(params any) (any, error) {
	m, ok := params.(map[string]any)
	if !ok {
		return nil, &protocol.JsonRpcError{Code: protocol.ErrInvalidParams, Message: "invalid tools/call parameters"}
	}
	name, _ := m["name"].(string)
	logger.Info("Tool call requested for:", name)

	handler := s.toolHandler(name)
	if handler == nil {
		return nil, &protocol.JsonRpcError{Code: protocol.ErrMethodNotFound, Message: fmt.Sprintf("tool not found: %s", name)}
	}

	result, err := handler(m["arguments"])
	if err != nil {
		logger.Warn("Tool", name, "failed:", err)
		return protocol.ToolCallResult{
			Content: []protocol.ContentItem{{Type: "text", Text: err.Error()}},
			IsError: true,
		}, nil
	}
	text, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s result: %w", name, err)
	}
	return protocol.ToolCallResult{
		Content: []protocol.ContentItem{{Type: "text", Text: string(text)}},
	}, nil
}
