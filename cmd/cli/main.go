// Command cli dispatches a single action from the command line:
//
//	cli <action> [key=value ...]
//
// The process starts in CLI mode (no web or task components), runs the
// action through the same pipeline as any request, prints the JSON
// {response, error?} payload, and exits 0 on success or 1 on error.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/evantahler/bun-actionhero-sub001/internal/components"
	"github.com/evantahler/bun-actionhero-sub001/pkg/config"
	"github.com/evantahler/bun-actionhero-sub001/pkg/connection"
	"github.com/evantahler/bun-actionhero-sub001/pkg/observability"
	"github.com/evantahler/bun-actionhero-sub001/pkg/params"
	"github.com/evantahler/bun-actionhero-sub001/pkg/registry"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: cli <action> [key=value ...]")
		return 1
	}
	actionName := args[0]

	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	// CLI output is the payload on stdout; logs stay out of the way.
	logger := observability.NewLoggerWithSink(cfg.Process.Name,
		observability.LogLevelError, observability.ParseFormat(cfg.Logger.Format),
		observability.NewStdoutSink())

	process := registry.NewProcess(registry.NewAPI(cfg, logger, observability.NewNoopMetrics()))
	if err := process.Register(components.Builtin()...); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	ctx := context.Background()
	if err := process.Start(ctx, registry.ModeCLI); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	defer func() { _ = process.Stop(ctx) }()

	api := process.API()
	conn := connection.New(connection.TypeCLI, "cli", api.Sessions, api.PubSub)
	api.Connections.Register(conn)
	defer api.Connections.Destroy(conn)

	raw := params.New()
	for _, arg := range args[1:] {
		key, value, found := strings.Cut(arg, "=")
		if !found {
			fmt.Fprintf(os.Stderr, "argument %q is not key=value\n", arg)
			return 1
		}
		raw.Add(key, value)
	}

	result := api.Dispatcher.Dispatch(ctx, conn, actionName, raw, "", "cli:"+actionName)

	payload := map[string]any{"response": result.Response}
	if result.Error != nil {
		payload["error"] = result.Error
	}
	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	fmt.Println(string(out))

	if result.Error != nil {
		return 1
	}
	return 0
}
