package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-go-golems/stromboli/pkg/llm"
	"github.com/go-go-golems/stromboli/pkg/runloop"
	"github.com/go-go-golems/stromboli/pkg/server"
	"github.com/go-go-golems/stromboli/pkg/toolprovider"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "stromboli",
	Short: "AG-UI streaming bridge between chat prompts, an LLM and MCP tools",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.String("addr", ":8001", "listen address")
	flags.String("log-level", "info", "zerolog level (trace, debug, info, warn, error)")

	flags.String("api-type", llm.ApiTypeOpenAI, "LLM API flavor (openai or azure)")
	flags.String("api-key", "", "LLM API key")
	flags.String("base-url", "", "LLM base URL (azure endpoint when api-type is azure)")
	flags.String("api-version", "", "azure API version")
	flags.String("model", "", "model or azure deployment name")
	flags.Int("fallback-chunk-size", llm.DefaultFallbackChunkSize, "fragment size for the non-streaming delivery fallback")

	flags.String("mcp-command", "", "command launching an MCP tool server over stdio")
	flags.StringSlice("mcp-args", nil, "arguments for the MCP server command")
	flags.String("mcp-url", "", "streamable HTTP MCP endpoint (takes precedence over mcp-command)")
	flags.Bool("demo-tools", false, "serve built-in demo tools instead of an MCP server")

	flags.String("system-prompt", runloop.DefaultSystemPrompt, "system prompt for the model")
	flags.Int("max-tool-rounds", 10, "maximum decide/execute rounds per run (0 disables the cap)")
	flags.Int("tool-result-limit", toolprovider.DefaultResultLimit, "maximum normalized tool result length in runes")

	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("STROMBOLI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func run(ctx context.Context) error {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return errors.Wrap(err, "parse log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	engine, err := llm.NewOpenAIEngine(llm.Settings{
		ApiType:           viper.GetString("api-type"),
		APIKey:            viper.GetString("api-key"),
		BaseURL:           viper.GetString("base-url"),
		APIVersion:        viper.GetString("api-version"),
		Model:             viper.GetString("model"),
		FallbackChunkSize: viper.GetInt("fallback-chunk-size"),
	})
	if err != nil {
		return errors.Wrap(err, "create LLM engine")
	}

	factory, err := makeProviderFactory()
	if err != nil {
		return err
	}

	loopCfg := runloop.NewConfig().
		WithSystemPrompt(viper.GetString("system-prompt")).
		WithMaxToolRounds(viper.GetInt("max-tool-rounds")).
		WithNormalizer(toolprovider.NewNormalizer().WithLimit(viper.GetInt("tool-result-limit")))

	srv, err := server.New(
		server.WithAddr(viper.GetString("addr")),
		server.WithEngine(engine),
		server.WithProviderFactory(factory),
		server.WithLoopConfig(loopCfg),
	)
	if err != nil {
		return errors.Wrap(err, "create server")
	}

	return srv.ListenAndServe(ctx)
}

func makeProviderFactory() (toolprovider.Factory, error) {
	mcpURL := viper.GetString("mcp-url")
	mcpCommand := viper.GetString("mcp-command")

	switch {
	case mcpURL != "" || mcpCommand != "":
		return toolprovider.MCPFactory(toolprovider.MCPConfig{
			Command:       mcpCommand,
			Args:          viper.GetStringSlice("mcp-args"),
			Env:           os.Environ(),
			URL:           mcpURL,
			ClientName:    "stromboli",
			ClientVersion: "0.1.0",
		}), nil

	case viper.GetBool("demo-tools"):
		registry, err := demoRegistry()
		if err != nil {
			return nil, errors.Wrap(err, "register demo tools")
		}
		return func(context.Context) (toolprovider.Provider, error) {
			return registry, nil
		}, nil

	default:
		return nil, errors.New("configure a tool source: --mcp-url, --mcp-command or --demo-tools")
	}
}

type echoRequest struct {
	Text string `json:"text" jsonschema:"required,description=Text to echo back"`
}

type timeRequest struct {
	Format string `json:"format,omitempty" jsonschema:"description=Go time layout,default=RFC3339"`
}

func demoRegistry() (*toolprovider.Registry, error) {
	registry := toolprovider.NewRegistry()

	if err := registry.RegisterFunc("echo", "Echo back the provided text", func(req echoRequest) (map[string]interface{}, error) {
		return map[string]interface{}{"echo": req.Text}, nil
	}); err != nil {
		return nil, err
	}

	if err := registry.RegisterFunc("current_time", "Return the current server time", func(req timeRequest) (map[string]interface{}, error) {
		layout := req.Format
		if layout == "" || layout == "RFC3339" {
			layout = time.RFC3339
		}
		return map[string]interface{}{"time": time.Now().Format(layout)}, nil
	}); err != nil {
		return nil, err
	}

	return registry, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("stromboli exited with error")
	}
}
