// Command folder-mcp is the thin stdio front-end supervised by the
// folder-mcp daemon (spec §4.J's "component that speaks the external tool
// protocol"). Wiring a real tool protocol is explicitly out of scope; this
// front-end instead relays newline-delimited JSON requests from standard
// input to the daemon's local control plane and writes its responses back
// to standard output, giving the supervisor a concrete, restartable child.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/okets/folder-mcp/cmd"
	"github.com/okets/folder-mcp/internal/daemonctl"
)

// request is one line of stdin: a control-plane method name and its
// raw JSON parameters.
type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// response is one line of stdout, written once per request line, in the same
// order as the requests were read.
type response struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func main() {
	record, ok, err := daemonctl.Discover()
	if err != nil {
		cmd.Fatal(fmt.Errorf("unable to locate daemon: %w", err))
	}
	if !ok {
		cmd.Fatal(fmt.Errorf("no daemon is running"))
	}

	client := newControlPlaneClient(record.HTTPPort)

	done := make(chan struct{})
	go func() {
		defer close(done)
		serve(os.Stdin, os.Stdout, client)
	}()

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, cmd.TerminationSignals...)
	select {
	case <-terminate:
	case <-done:
	}
}

// serve reads newline-delimited JSON requests from r and writes
// newline-delimited JSON responses to w until r is exhausted.
func serve(r io.Reader, w io.Writer, client *controlPlaneClient) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			encoder.Encode(response{Error: fmt.Sprintf("invalid request: %v", err)})
			continue
		}

		result, err := client.dispatch(req.Method, req.Params)
		if err != nil {
			encoder.Encode(response{Error: err.Error()})
			continue
		}
		encoder.Encode(response{Result: result})
	}
}
