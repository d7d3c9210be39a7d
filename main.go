package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/n0madic/go-modelgate/internal/config"
	"github.com/n0madic/go-modelgate/internal/models"
	"github.com/n0madic/go-modelgate/internal/router"
	"github.com/n0madic/go-modelgate/internal/server"
	"github.com/n0madic/go-modelgate/internal/types"
	"github.com/n0madic/go-modelgate/internal/upstream"
)

const commands = "Commands: serve, models, ask"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: modelgate <command> [flags]")
		fmt.Fprintln(os.Stderr, commands)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe())
	case "models":
		os.Exit(cmdModels())
	case "ask":
		os.Exit(cmdAsk())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, commands)
		os.Exit(1)
	}
}

// commonFlags binds the flags every command shares onto cfg.
func commonFlags(fs *flag.FlagSet, cfg *config.ServerConfig) {
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Path to a YAML gateway config")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Dump inbound and upstream HTTP traffic to stderr")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text|json)")
	fs.StringVar(&cfg.GatewayPrefix, "gateway-prefix", cfg.GatewayPrefix, "Literal stripped from model ids before routing")
	fs.DurationVar(&cfg.UpstreamTimeout, "upstream-timeout", cfg.UpstreamTimeout, "How long a provider may take to send response headers; streamed bodies are not limited")
}

// parseConfig parses args into cfg. Values from --config are applied before
// the flags are parsed a second time, so explicit flags win over the file and
// the file wins over the environment.
func parseConfig(fs *flag.FlagSet, cfg *config.ServerConfig, args []string) error {
	fs.Parse(args)
	if cfg.ConfigPath == "" {
		return nil
	}
	f, err := config.LoadFile(cfg.ConfigPath)
	if err != nil {
		return err
	}
	if err := f.Apply(cfg); err != nil {
		return err
	}
	fs.Parse(args)
	return nil
}

func setupLogging(cfg *config.ServerConfig) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func cmdServe() int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.DefaultFromEnv()

	commonFlags(fs, cfg)
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.StringVar(&cfg.AccessToken, "access-token", cfg.AccessToken, "Require this bearer token on /v1 routes")
	if err := parseConfig(fs, cfg, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	setupLogging(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rt, err := router.FromConfig(context.Background(), cfg, router.NewMetrics(reg))
	if err != nil {
		slog.Error("failed to build router", "error", err)
		return 1
	}
	srv := server.New(cfg, rt, reg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	slog.Info("modelgate starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"gateway_prefix", cfg.GatewayPrefix,
		"models", rt.Catalog().Len(),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

func cmdModels() int {
	fs := flag.NewFlagSet("models", flag.ExitOnError)
	cfg := config.DefaultFromEnv()
	commonFlags(fs, cfg)
	jsonOut := fs.Bool("json", false, "Print the catalog as JSON")
	if err := parseConfig(fs, cfg, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	catalog, err := models.NewCatalog(cfg.Models)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	entries := catalog.Entries()

	if *jsonOut {
		data, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(data))
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tBACKEND")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", cfg.GatewayPrefix+e.ID, e.Name(), e.Namespace())
	}
	tw.Flush()
	return 0
}

func cmdAsk() int {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	cfg := config.DefaultFromEnv()
	commonFlags(fs, cfg)
	model := fs.String("model", "openai/gpt-4o", "Namespaced model id")
	system := fs.String("system", "", "Optional system prompt")
	streamOut := fs.Bool("stream", false, "Stream fragments as they arrive")
	if err := parseConfig(fs, cfg, os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	setupLogging(cfg)

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		fmt.Fprintln(os.Stderr, "Usage: modelgate ask [flags] <prompt>")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := router.FromConfig(ctx, cfg, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	var messages []types.Message
	if *system != "" {
		messages = append(messages, types.Message{Role: types.RoleSystem, Content: *system})
	}
	messages = append(messages, types.Message{Role: types.RoleUser, Content: prompt})

	return runAsk(ctx, rt, &types.CanonicalRequest{Model: *model, Messages: messages, Stream: *streamOut}, os.Stdout)
}

// runAsk prints the answer to w. Routing and provider failures are printed as
// "Error: ..." and exit 1, whether they happen up front or mid-stream.
func runAsk(ctx context.Context, rt *router.Router, req *types.CanonicalRequest, w io.Writer) int {
	res, err := rt.Route(ctx, req)
	if err != nil {
		fmt.Fprintln(w, upstream.ErrorText(err))
		return 1
	}
	if !res.IsStream() {
		fmt.Fprintln(w, res.Text())
		return 0
	}
	frags := res.Fragments()
	for frag := range frags.All() {
		fmt.Fprint(w, frag)
	}
	fmt.Fprintln(w)
	if err := frags.Err(); err != nil {
		fmt.Fprintln(w, upstream.ErrorText(err))
		return 1
	}
	return 0
}
