package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nugget/docent/internal/agent"
	"github.com/nugget/docent/internal/llm"
	"github.com/nugget/docent/internal/render"
)

type answerOutput struct {
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	ConversationID string    `json:"conversation_id"`
	Model          string    `json:"model,omitempty"`
	Turns          int       `json:"turns"`
	ToolCalls      int       `json:"tool_calls"`
	Usage          llm.Usage `json:"usage"`
}

func newOrchestrator(a *app, stderr io.Writer, opts options) (*agent.Orchestrator, error) {
	var agentOpts []agent.Option
	if opts.verbose {
		agentOpts = append(agentOpts, agent.WithToolObserver(toolTracer(stderr)))
	}
	return a.orchestrator(agentOpts...)
}

// runAsk answers a single question.
func runAsk(ctx context.Context, stdout, stderr io.Writer, opts options, question string) error {
	a, err := newApp(ctx, stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := newOrchestrator(a, stderr, opts)
	if err != nil {
		return err
	}

	res, err := o.Answer(ctx, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return writeAnswer(stdout, opts.output, question, res)
}

// runChat answers questions read from stdin until EOF or "exit". Each
// question is an independent exchange. A failed question is reported
// and the loop continues.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts options) error {
	a, err := newApp(ctx, stderr, opts.configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := newOrchestrator(a, stderr, opts)
	if err != nil {
		return err
	}

	prompt := opts.output == "text" || opts.output == "plain"
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		if prompt {
			fmt.Fprint(stdout, "> ")
		}
		if !scanner.Scan() {
			if prompt {
				fmt.Fprintln(stdout)
			}
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		res, err := o.Answer(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(stderr, "error: %s\n", err)
			continue
		}
		if err := writeAnswer(stdout, opts.output, question, res); err != nil {
			return err
		}
		if prompt {
			fmt.Fprintln(stdout)
		}
	}
}

func writeAnswer(w io.Writer, format, question string, res *agent.Result) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(answerOutput{
			Question:       question,
			Answer:         res.Answer,
			ConversationID: res.ConversationID,
			Model:          res.Model,
			Turns:          res.Turns,
			ToolCalls:      res.ToolCalls,
			Usage:          res.Usage,
		})
	case "html":
		page, err := render.HTML(question, res.Answer)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, page)
		return err
	case "plain":
		_, err := fmt.Fprintln(w, render.Plain(res.Answer))
		return err
	default:
		_, err := fmt.Fprintln(w, res.Answer)
		return err
	}
}
