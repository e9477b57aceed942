package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "--help", "-h", "help":
		showUsage()
		return
	case "ask":
		err = runAsk(args)
	case "chat":
		err = runChat(args)
	case "serve":
		err = runServe(args)
	case "sessions":
		err = runSessions(args)
	case "audit":
		err = runAudit(args)
	case "doctor":
		err = runDoctor(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'medsight --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`medsight - multi-agent assistant for medical images and records

USAGE:
    medsight <COMMAND> [FLAGS]

COMMANDS:
    ask         Answer one question about the given images and records
    chat        Interactive session (/image, /record, /clear, /metrics, /quit)
    serve       Run the HTTP JSON API
    sessions    Manage stored conversations
                Subcommands: list, show <id>, delete <id>, cleanup
    audit       Print the audit trail
    doctor      Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./medsight.yaml)
    --image PATH       Attach an image (ask; repeatable)
    --record PATH      Attach a text record (ask; repeatable)
    --session ID       Resume a stored session (ask, chat) or filter (audit)
    --user ID          User id recorded with new sessions
    --plain            Print answers without markdown rendering

CONFIGURATION:
    Config file: ./medsight.yaml
    Environment: MEDSIGHT_* variables override config; .env is loaded first

EXAMPLES:
    medsight ask --image chest_xray.png "What do you see?"
    medsight ask --image ct.png --record note.txt "Give me a comprehensive review"
    medsight serve --config /etc/medsight.yaml
    medsight sessions cleanup`)
}

// cliArgs holds the flags shared by the subcommands.
type cliArgs struct {
	Config     string
	Images     []string
	Records    []string
	Session    string
	User       string
	Plain      bool
	Positional []string
}

// parseArgs extracts the known flags from args. Both "--flag value" and
// "--flag=value" forms are accepted; anything else is positional.
func parseArgs(args []string) (cliArgs, error) {
	var out cliArgs
	valued := map[string]func(string){
		"--config":  func(v string) { out.Config = v },
		"--image":   func(v string) { out.Images = append(out.Images, v) },
		"--record":  func(v string) { out.Records = append(out.Records, v) },
		"--session": func(v string) { out.Session = v },
		"--user":    func(v string) { out.User = v },
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--plain" {
			out.Plain = true
			continue
		}
		name, value, hasValue := strings.Cut(arg, "=")
		set, ok := valued[name]
		if !ok {
			out.Positional = append(out.Positional, arg)
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("flag %s needs a value", name)
			}
			i++
			value = args[i]
		}
		set(value)
	}

	if out.Config == "" {
		out.Config = os.Getenv("MEDSIGHT_CONFIG")
	}
	if out.Config == "" {
		out.Config = "medsight.yaml"
	}
	return out, nil
}
