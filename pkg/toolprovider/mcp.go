package toolprovider

import (
	"context"
	"encoding/json"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MCPConfig selects the transport to the external MCP tool server. URL takes
// precedence over Command when both are set.
type MCPConfig struct {
	// Command (plus Args and Env) launches the server as a child process
	// speaking stdio.
	Command string
	Args    []string
	Env     []string

	// URL connects to a streamable HTTP MCP endpoint.
	URL string

	ClientName    string
	ClientVersion string
}

// MCPSession is one run's connection to an MCP server. A session is opened
// fresh per run and closed on every exit path; a single long-lived session
// shared across concurrent runs would interleave requests on one transport.
type MCPSession struct {
	client *mcpclient.Client
}

// OpenMCP connects to the configured MCP server and performs the protocol
// handshake.
func OpenMCP(ctx context.Context, cfg MCPConfig) (*MCPSession, error) {
	var c *mcpclient.Client
	var err error

	switch {
	case cfg.URL != "":
		log.Debug().Str("url", cfg.URL).Msg("Opening MCP session over streamable HTTP")
		c, err = mcpclient.NewStreamableHttpClient(cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "create MCP HTTP client")
		}
		if err := c.Start(ctx); err != nil {
			return nil, errors.Wrap(err, "start MCP HTTP client")
		}
	case cfg.Command != "":
		log.Debug().Str("command", cfg.Command).Strs("args", cfg.Args).Msg("Opening MCP session over stdio")
		c, err = mcpclient.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, errors.Wrap(err, "start MCP server process")
		}
	default:
		return nil, errors.New("MCP config needs either a command or a URL")
	}

	name := cfg.ClientName
	if name == "" {
		name = "stromboli"
	}
	version := cfg.ClientVersion
	if version == "" {
		version = "dev"
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{Name: name, Version: version}

	if _, err := c.Initialize(ctx, initRequest); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "initialize MCP session")
	}

	return &MCPSession{client: c}, nil
}

// MCPFactory returns a Factory that opens a fresh session per run.
func MCPFactory(cfg MCPConfig) Factory {
	return func(ctx context.Context) (Provider, error) {
		return OpenMCP(ctx, cfg)
	}
}

func (s *MCPSession) ListTools(ctx context.Context) ([]Descriptor, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errors.Wrap(err, "list tools")
	}

	descriptors := make([]Descriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal input schema for tool %s", tool.Name)
		}
		descriptors = append(descriptors, Descriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	log.Debug().Int("tool_count", len(descriptors)).Msg("Discovered MCP tools")
	return descriptors, nil
}

func (s *MCPSession) CallTool(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = arguments

	result, err := s.client.CallTool(ctx, request)
	if err != nil {
		return nil, errors.Wrapf(err, "call tool %s", name)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, errors.Errorf("tool %s: %s", name, text)
	}
	return text, nil
}

func (s *MCPSession) Close() error {
	return s.client.Close()
}

var _ Provider = (*MCPSession)(nil)

func flattenContent(contents []mcp.Content) string {
	parts := make([]string, 0, len(contents))
	for _, content := range contents {
		switch c := content.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			if b, err := json.Marshal(c); err == nil {
				parts = append(parts, string(b))
			}
		}
	}
	return strings.Join(parts, "\n")
}
