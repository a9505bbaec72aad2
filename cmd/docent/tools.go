package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

type serverStatus struct {
	Name          string     `json:"name"`
	ServerName    string     `json:"server_name,omitempty"`
	ServerVersion string     `json:"server_version,omitempty"`
	Healthy       bool       `json:"healthy"`
	Error         string     `json:"error,omitempty"`
	Latency       string     `json:"latency,omitempty"`
	Tools         []toolInfo `json:"tools"`
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// runTools connects every server, pings it and lists its tools.
func runTools(ctx context.Context, stdout, stderr io.Writer, opts options) error {
	a, err := newApp(ctx, stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	statuses := make([]serverStatus, 0, len(a.sessions))
	for _, s := range a.sessions {
		st := serverStatus{Name: s.Name(), Tools: []toolInfo{}}
		st.ServerName, st.ServerVersion = s.ServerInfo()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		err := s.Ping(pingCtx)
		cancel()
		if err != nil {
			st.Error = err.Error()
		} else {
			st.Healthy = true
			st.Latency = time.Since(start).Round(time.Microsecond).String()
		}

		for _, d := range s.Tools() {
			st.Tools = append(st.Tools, toolInfo{Name: d.Name, Description: d.Description})
		}
		statuses = append(statuses, st)
	}

	if opts.output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	if len(statuses) == 0 {
		fmt.Fprintln(stdout, "No tool servers connected.")
		return nil
	}
	for _, st := range statuses {
		health := "ok " + st.Latency
		if !st.Healthy {
			health = "unhealthy: " + st.Error
		}
		fmt.Fprintf(stdout, "%s (%s %s) %s\n", st.Name, st.ServerName, st.ServerVersion, health)
		for _, t := range st.Tools {
			fmt.Fprintf(stdout, "  %-20s %s\n", t.Name, firstLine(t.Description))
		}
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
