package mcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-kb/internal/logger"
)

// Version is reported to clients during initialisation.
const Version = "0.1.0"

// shutdownGrace bounds how long in-flight HTTP requests may finish after
// the context ends.
const shutdownGrace = 5 * time.Second

const instructions = `sercha-kb is a knowledge base of ingested documents split into chunks.
Use search_knowledge for semantic queries and list_knowledge to browse by
source or date. Results are filtered by scope: "public" sees only public
chunks, "internal" sees both. Chunks are also readable as
knowledge://chunks/{id} resources.`

// Server exposes the knowledge base over the Model Context Protocol.
type Server struct {
	ports  *Ports
	server *mcp.Server
}

// NewServer registers the tools and resources the ports support. A nil
// Ingest port yields a read-only server.
func NewServer(ports *Ports) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	s := &Server{
		ports: ports,
		server: mcp.NewServer(
			&mcp.Implementation{Name: "sercha-kb", Version: Version},
			&mcp.ServerOptions{Instructions: instructions},
		),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves a single client over stdin and stdout until ctx ends or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler serves the streamable HTTP transport. Every HTTP session shares
// the one MCP server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.server }, nil)
}

// RunHTTP listens on addr and serves until ctx ends.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts HTTP connections on ln until ctx ends, then shuts down
// gracefully. It closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()
	logger.Info("mcp: listening on %s", ln.Addr())

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("mcp: shutting down http server: %v", err)
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
