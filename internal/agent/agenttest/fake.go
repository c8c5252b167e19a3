// Package agenttest runs a stand-in for the agent executable inside a test
// binary. A test's TestMain calls MaybeRun; when the process was spawned with
// EnvFakeAgent set it becomes the fake agent and never returns.
package agenttest

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// EnvFakeAgent switches a test binary into fake-agent mode.
	EnvFakeAgent = "MCPHOST_FAKE_AGENT"
	// EnvFakeMode selects the fake agent's behaviour.
	EnvFakeMode = "MCPHOST_FAKE_AGENT_MODE"
	// EnvArgsFile makes the fake agent write its argv there, one per line.
	EnvArgsFile = "MCPHOST_FAKE_AGENT_ARGS_FILE"
)

// Modes understood by the fake agent.
const (
	ModeServe      = "serve"       // serve MCP over SSE until SIGTERM
	ModeCrash      = "crash"       // print a line and exit 3
	ModeNoReady    = "noready"     // never listen, wait for SIGTERM
	ModeIgnoreTerm = "ignore-term" // serve and ignore SIGTERM
	ModeEcho       = "echo"        // print a few lines and exit 0
)

// MaybeRun turns the current process into the fake agent when EnvFakeAgent
// is set. Otherwise it returns immediately.
func MaybeRun() {
	if os.Getenv(EnvFakeAgent) != "1" {
		return
	}
	os.Exit(run(os.Args[1:]))
}

// Args holds the parsed invocation flags.
type Args struct {
	Transport       string
	Host            string
	Port            int
	AccessLevel     string
	AdditionalTools string
	Timeout         int
}

// ParseArgs parses the agent's command line.
func ParseArgs(argv []string) (Args, error) {
	fs := flag.NewFlagSet("fake-agent", flag.ContinueOnError)
	var a Args
	fs.StringVar(&a.Transport, "transport", "", "")
	fs.StringVar(&a.Host, "host", "", "")
	fs.IntVar(&a.Port, "port", 0, "")
	fs.StringVar(&a.AccessLevel, "access-level", "", "")
	fs.StringVar(&a.AdditionalTools, "additional-tools", "", "")
	fs.IntVar(&a.Timeout, "timeout", 0, "")
	if err := fs.Parse(argv); err != nil {
		return Args{}, err
	}
	return a, nil
}

func run(argv []string) int {
	if path := os.Getenv(EnvArgsFile); path != "" {
		var buf []byte
		for _, a := range argv {
			buf = append(buf, a...)
			buf = append(buf, '\n')
		}
		_ = os.WriteFile(path, buf, 0o644)
	}

	mode := os.Getenv(EnvFakeMode)
	if mode == "" {
		mode = ModeServe
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, os.Interrupt)

	switch mode {
	case ModeEcho:
		fmt.Println("hello from stdout")
		fmt.Fprintln(os.Stderr, "hello from stderr")
		fmt.Println("bye")
		return 0
	case ModeCrash:
		fmt.Fprintln(os.Stderr, "fatal: simulated crash")
		return 3
	case ModeNoReady:
		fmt.Println("starting but never listening")
		<-sigCh
		return 0
	}

	args, err := ParseArgs(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if args.Transport != "sse" {
		fmt.Fprintf(os.Stderr, "unsupported transport %q\n", args.Transport)
		return 2
	}

	addr := net.JoinHostPort(args.Host, strconv.Itoa(args.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	mcpServer := server.NewMCPServer("fake-aks-mcp", "0.0.0-test", server.WithToolCapabilities(true))
	mcpServer.AddTool(
		mcp.NewTool("access_level", mcp.WithDescription("Reports the access level the agent was started with")),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return mcp.NewToolResultText(args.AccessLevel), nil
		},
	)
	sse := server.NewSSEServer(mcpServer, server.WithBaseURL("http://"+addr))

	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())
	httpServer := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() { _ = httpServer.Serve(ln) }()
	fmt.Printf("listening on %s\n", addr)

	for sig := range sigCh {
		if mode == ModeIgnoreTerm && sig == syscall.SIGTERM {
			fmt.Println("ignoring SIGTERM")
			continue
		}
		break
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = sse.Shutdown(ctx)
	_ = httpServer.Shutdown(ctx)
	return 0
}

// Executable returns the path of the running test binary, which doubles as
// the fake agent.
func Executable() (string, error) {
	return os.Executable()
}
