package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dock108/aicli-companion/internal/desktopctl"
	"github.com/dock108/aicli-companion/internal/logging"
	"github.com/dock108/aicli-companion/internal/prefs"
	"github.com/dock108/aicli-companion/internal/supervisor"
	"github.com/tidwall/gjson"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := strings.ToLower(strings.TrimSpace(os.Args[1]))

	fs := flag.NewFlagSet("hostctl "+cmd, flag.ExitOnError)
	apiURL := fs.String("api", envOr("COMPANION_API_URL", desktopctl.DefaultBaseURL), "Control API base URL")
	port := fs.Int("port", 0, "Companion server port (0 uses the host default)")
	token := fs.String("token", "", "Auth token passed to the server on start")
	configPath := fs.String("server-config", "", "Config path passed to the server on start")
	force := fs.Bool("force", false, "Stop a server this host did not start")
	limit := fs.Int("n", 50, "Number of log lines to show (0 for all)")
	follow := fs.Bool("f", false, "Follow the log stream")
	query := fs.String("q", "", "Print only this gjson path of the JSON result")
	jsonOut := fs.Bool("json", false, "Output JSON")
	timeout := fs.Duration("timeout", 60*time.Second, "Request timeout")
	_ = fs.Parse(os.Args[2:])

	client := desktopctl.NewClient(*apiURL)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	out := printer{asJSON: *jsonOut, query: *query}

	switch cmd {
	case "status":
		st, err := client.Status(ctx)
		check(err)
		out.status(st)
	case "start":
		st, err := client.Start(ctx, supervisor.StartOptions{Port: *port, AuthToken: *token, ConfigPath: *configPath})
		check(err)
		out.status(st)
	case "stop":
		st, err := client.Stop(ctx, supervisor.StopOptions{ForceExternal: *force})
		check(err)
		out.status(st)
	case "detect":
		st, err := client.Detect(ctx, *port)
		check(err)
		out.status(st)
	case "health":
		res, err := client.Health(ctx, *port)
		check(err)
		if out.structured() {
			out.value(res)
		} else if res.Healthy {
			fmt.Printf("healthy %s\n", res.URL)
		} else {
			fmt.Printf("unhealthy %s\n", res.URL)
			os.Exit(1)
		}
	case "logs":
		if *follow {
			cancel()
			followLogs(client, out)
			return
		}
		entries, err := client.Logs(ctx, *limit)
		check(err)
		if out.structured() {
			out.value(entries)
			return
		}
		for _, e := range entries {
			printEntry(e)
		}
	case "clear-logs":
		check(client.ClearLogs(ctx))
		fmt.Println("cleared")
	case "ip":
		info, err := client.Network(ctx)
		check(err)
		if out.structured() {
			out.value(info)
		} else {
			fmt.Printf("%s:%d\n", info.IP, info.Port)
		}
	case "open":
		st, err := client.Status(ctx)
		check(err)
		check(desktopctl.OpenBrowser(st.HealthURL))
	case "open-logs":
		check(desktopctl.OpenFolder(prefs.Dir()))
	case "token":
		t, err := prefs.NewStore("").AuthToken()
		check(err)
		fmt.Println(t)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: hostctl <status|start|stop|detect|health|logs|clear-logs|ip|open|open-logs|token> [flags]")
	fmt.Fprintln(os.Stderr, "Flags: -api <url> -port <n> -token <t> -force -n <lines> -f -q <path> -json")
}

func check(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func followLogs(client *desktopctl.Client, out printer) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := client.StreamLogs(ctx, true, func(e logging.Entry) {
		if out.structured() {
			out.value(e)
			return
		}
		printEntry(e)
	})
	check(err)
}

func printEntry(e logging.Entry) {
	fmt.Printf("%s %-7s %s\n", e.Timestamp.Format("15:04:05.000"), strings.ToUpper(string(e.Level)), e.Message)
}

// printer renders results as text, indented JSON, or a single gjson path.
type printer struct {
	asJSON bool
	query  string
}

func (p printer) structured() bool { return p.asJSON || p.query != "" }

func (p printer) value(v any) {
	data, err := json.Marshal(v)
	check(err)
	if p.query != "" {
		res := gjson.GetBytes(data, p.query)
		if !res.Exists() {
			os.Exit(1)
		}
		fmt.Println(res.String())
		return
	}
	indented, _ := json.MarshalIndent(json.RawMessage(data), "", "  ")
	fmt.Println(string(indented))
}

func (p printer) status(st supervisor.ServerStatus) {
	if p.structured() {
		p.value(st)
		return
	}
	fmt.Println(describe(st))
}

func describe(st supervisor.ServerStatus) string {
	switch {
	case !st.Running:
		return fmt.Sprintf("stopped port=%d", st.Port)
	case st.External:
		return fmt.Sprintf("running (external) port=%d health=%s", st.Port, st.HealthURL)
	case st.PID != nil:
		return fmt.Sprintf("running pid=%d port=%d health=%s", *st.PID, st.Port, st.HealthURL)
	default:
		return fmt.Sprintf("running port=%d health=%s", st.Port, st.HealthURL)
	}
}
