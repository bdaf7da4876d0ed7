package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-kb/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol server",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the knowledge base to MCP clients",
	Long: `Serve the knowledge base to AI assistants over the Model Context Protocol.

Without --port the server speaks JSON-RPC on stdin/stdout, which is what
desktop assistants launch. With --port it serves streamable HTTP on
--host:--port instead.

Tools: ingest_knowledge (omitted with --read-only), search_knowledge,
list_knowledge and get_knowledge. Public chunks are also readable as
knowledge://chunks/{id}.

The re-index scheduler runs alongside the server when it is enabled in
settings.

Examples:
  sercha-kb mcp serve
  sercha-kb mcp serve --read-only
  sercha-kb mcp serve --port 8080 --host 0.0.0.0`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "serve HTTP on this port instead of stdio")
	mcpServeCmd.Flags().String("host", "localhost", "interface to bind in HTTP mode")
	mcpServeCmd.Flags().Bool("read-only", false, "do not expose the ingest tool")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	if retrievalService == nil {
		return errNotConfigured("retrieval")
	}
	flags := cmd.Flags()
	port, _ := flags.GetInt("port")
	host, _ := flags.GetString("host")
	readOnly, _ := flags.GetBool("read-only")
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	ports := &mcp.Ports{Retrieval: retrievalService}
	if !readOnly {
		ports.Ingest = ingestService
	}
	server, err := mcp.NewServer(ports)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	defer startScheduler(ctx)()

	if port == 0 {
		return server.Run(ctx)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	cmd.PrintErrf("MCP server listening on http://%s\n", addr)
	return server.RunHTTP(ctx, addr)
}
