// Docent answers questions about a document collection by letting a
// language model call tools served by external MCP processes, such as
// docent-search and docent-vision.
//
// Usage:
//
//	docent ask <question>    Answer one question
//	docent chat              Answer questions read from stdin, one per line
//	docent tools             List the tools of every configured server
//	docent usage [period]    Summarize recorded token usage (default: 24h)
//	docent init [dir]        Write an example docent.yaml
//	docent version           Print version and build information
//	docent -o json ask ...   Output the answer as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nugget/docent/internal/buildinfo"
)

// Output formats accepted by -o.
var outputFormats = map[string]bool{"text": true, "plain": true, "json": true, "html": true}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options are the global flags shared by every command.
type options struct {
	configPath string
	output     string
	verbose    bool
}

// run is the real entry point. Arguments are parsed by hand so run has
// no global flag state and can be called from tests. Answers go to
// stdout; logs, tool traces and errors go to stderr.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.output = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.output = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.output = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-v" || args[i] == "--verbose":
			opts.verbose = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if opts.output == "" {
		opts.output = "text"
	}
	if !outputFormats[opts.output] {
		return fmt.Errorf("unknown output format: %q (expected text, plain, json or html)", opts.output)
	}

	switch command {
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: docent ask <question>")
		}
		return runAsk(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, opts)
	case "tools":
		return runTools(ctx, stdout, stderr, opts)
	case "usage":
		period := "24h"
		if len(cmdArgs) > 0 {
			period = cmdArgs[0]
		}
		return runUsage(ctx, stdout, opts, period)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.output)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Docent - tool-using document question answering")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: docent [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  ask <question>   Answer one question")
	fmt.Fprintln(w, "  chat             Answer questions from stdin, one per line")
	fmt.Fprintln(w, "  tools            List and ping the configured tool servers")
	fmt.Fprintln(w, "  usage [period]   Summarize token usage over period (default: 24h)")
	fmt.Fprintln(w, "  init [dir]       Write an example docent.yaml (default: .)")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default), plain, json or html")
	fmt.Fprintln(w, "  -v, --verbose     Print each tool call to stderr")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./docent.yaml, ~/.config/docent/config.yaml, /etc/docent/config.yaml")
	return nil
}
