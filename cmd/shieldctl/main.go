package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shieldsms/shield/internal/paths"
	"github.com/shieldsms/shield/internal/store"
)

func main() {
	socketFlag := flag.String("socket", "", "daemon socket path (overrides default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	tokenFlag := flag.String("token", "", "bearer token for set-endpoint")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := *socketFlag
	if socketPath == "" {
		socketPath = paths.SocketPath()
	}
	c := newClient(socketPath)

	switch args[0] {
	case "health":
		cmdHealth(c, *jsonFlag)
	case "status":
		cmdStatus(c, *jsonFlag)
	case "list":
		cmdList(c, *jsonFlag)
	case "retry":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: shieldctl retry <id>")
			os.Exit(1)
		}
		cmdRetry(c, args[1], *jsonFlag)
	case "set-endpoint":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: shieldctl set-endpoint <base-url> [--token <token>]")
			os.Exit(1)
		}
		cmdSetEndpoint(c, args[1], *tokenFlag)
	case "watch":
		cmdWatch(c)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: shieldctl [--socket <path>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  health                 Check that the daemon is up")
	fmt.Fprintln(os.Stderr, "  status                 Show endpoint and queue depth")
	fmt.Fprintln(os.Stderr, "  list                   List stored messages, newest first")
	fmt.Fprintln(os.Stderr, "  retry <id>             Re-enqueue a failed message")
	fmt.Fprintln(os.Stderr, "  set-endpoint <url>     Swap the classifier endpoint")
	fmt.Fprintln(os.Stderr, "  watch                  Stream live snapshots")
}

// client speaks HTTP/JSON over the daemon's unix socket. The host in request
// URLs is a placeholder; the dialer ignores it.
type client struct {
	hc         *http.Client
	socketPath string
}

func newClient(socketPath string) *client {
	return &client{
		hc: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return (&net.Dialer{}).DialContext(ctx, "unix", socketPath)
				},
			},
		},
		socketPath: socketPath,
	}
}

func (c *client) do(method, path string, reqBody any) ([]byte, int) {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			fatal(err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://shieldd"+path, body)
	if err != nil {
		fatal(err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.socketPath, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		fatal(err)
	}
	return data, resp.StatusCode
}

func (c *client) get(path string) []byte {
	data, code := c.do(http.MethodGet, path, nil)
	checkStatus(code, data)
	return data
}

func (c *client) post(path string, reqBody any) []byte {
	data, code := c.do(http.MethodPost, path, reqBody)
	checkStatus(code, data)
	return data
}

func checkStatus(code int, data []byte) {
	if code < 200 || code >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			fmt.Fprintf(os.Stderr, "error: %s\n", e.Error)
		} else {
			fmt.Fprintf(os.Stderr, "error: daemon returned %d\n", code)
		}
		os.Exit(1)
	}
}

func cmdHealth(c *client, jsonOut bool) {
	data := c.get("/v1/health")
	if jsonOut {
		outputRawJSON(data)
		return
	}
	fmt.Println("Daemon is up.")
}

func cmdStatus(c *client, jsonOut bool) {
	data := c.get("/v1/status")
	if jsonOut {
		outputRawJSON(data)
		return
	}
	var resp struct {
		Endpoint string         `json:"endpoint"`
		Tasks    map[string]int `json:"tasks"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		fatal(err)
	}
	fmt.Printf("Endpoint: %s\n", resp.Endpoint)
	if len(resp.Tasks) == 0 {
		fmt.Println("Queue:    empty")
		return
	}
	fmt.Println("Queue:")
	for state, n := range resp.Tasks {
		fmt.Printf("  %-16s %d\n", state, n)
	}
}

func cmdList(c *client, jsonOut bool) {
	data := c.get("/v1/messages")
	if jsonOut {
		outputRawJSON(data)
		return
	}
	var resp struct {
		Messages []store.Message `json:"messages"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		fatal(err)
	}
	if len(resp.Messages) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, m := range resp.Messages {
		verdict := "-"
		if m.Label != nil && m.Score != nil {
			verdict = fmt.Sprintf("%s (%.2f)", *m.Label, *m.Score)
		}
		ts := time.UnixMilli(m.Timestamp).Format(time.RFC3339)
		fmt.Printf("%-6d %-8s %-18s %-20s %s\n", m.ID, m.Status, verdict, ts, preview(m.Body))
	}
}

func cmdRetry(c *client, idArg string, jsonOut bool) {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid id %q\n", idArg)
		os.Exit(1)
	}
	data := c.post(fmt.Sprintf("/v1/messages/%d/retry", id), nil)
	if jsonOut {
		outputRawJSON(data)
		return
	}
	fmt.Printf("Message %d re-enqueued.\n", id)
}

func cmdSetEndpoint(c *client, baseURL, token string) {
	c.post("/v1/config/endpoint", map[string]string{
		"base_url": baseURL,
		"token":    token,
	})
	fmt.Printf("Endpoint set to %s\n", baseURL)
}

// cmdWatch tails the daemon's SSE stream and prints each snapshot event as a
// JSON line until interrupted.
func cmdWatch(c *client) {
	hc := &http.Client{Transport: c.hc.Transport}
	resp, err := hc.Get("http://shieldd/v1/watch")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.socketPath, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "error: daemon returned %d\n", resp.StatusCode)
		os.Exit(1)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			fmt.Println(data)
		}
	}
	if err := scanner.Err(); err != nil {
		fatal(err)
	}
}

func preview(body string) string {
	body = strings.ReplaceAll(body, "\n", " ")
	runes := []rune(body)
	if len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return body
}

func outputRawJSON(data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fatal(err)
	}
	fmt.Println(buf.String())
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
