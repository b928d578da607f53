package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/christopherklint97/billr/internal/billing"
)

// cleanEnv returns os.Environ() without the variables that make the
// claude CLI refuse to start inside another claude session.
func cleanEnv() []string {
	blocked := map[string]bool{
		"CLAUDECODE":             true,
		"CLAUDE_CODE_ENTRYPOINT": true,
	}
	var env []string
	for _, e := range os.Environ() {
		key, _, _ := strings.Cut(e, "=")
		if !blocked[key] {
			env = append(env, e)
		}
	}
	return env
}

// ClaudeCLI talks to the model through the claude command line tool
// using --json-schema structured output.
type ClaudeCLI struct {
	Model      string
	Binary     string
	logger     *slog.Logger
	OnThinking func(text string) // optional: called with streaming text chunks
}

func NewClaudeCLI(model string, logger *slog.Logger) *ClaudeCLI {
	if model == "" {
		model = "sonnet"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ClaudeCLI{Model: model, Binary: "claude", logger: logger}
}

func (c *ClaudeCLI) GroupEmails(ctx context.Context, req GroupRequest) ([]Group, error) {
	if len(req.Emails) == 0 {
		return nil, nil
	}
	out, err := c.ask(ctx, "group",
		buildGroupingSystemPrompt(req.Context),
		buildGroupingUserPrompt(req.Emails),
		schemaString(groupingSchema()),
	)
	if err != nil {
		return nil, err
	}
	groups, err := parseGrouping(out, req.Emails)
	if err != nil {
		c.logger.Error("failed to parse grouping", "error", err, "raw", truncateStr(out, 2000))
		return nil, err
	}
	c.logger.Debug("parsed grouping", "emails", len(req.Emails), "groups", len(groups))
	return groups, nil
}

func (c *ClaudeCLI) ClassifyEmail(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	out, err := c.ask(ctx, "classify",
		buildClassifySystemPrompt(req.Context),
		buildClassifyUserPrompt(req.Email),
		schemaString(classificationSchema()),
	)
	if err != nil {
		return nil, err
	}
	cl, err := parseClassification(out)
	if err != nil {
		c.logger.Error("failed to parse classification", "error", err, "raw", truncateStr(out, 2000))
		return nil, err
	}
	c.logger.Debug("parsed classification", "email_id", req.Email.ID, "status", cl.Status)
	return cl, nil
}

func (c *ClaudeCLI) DraftPreview(ctx context.Context, req DraftRequest) (*billing.Preview, error) {
	out, err := c.ask(ctx, "draft",
		buildDraftSystemPrompt(req.Context),
		buildDraftUserPrompt(req.Text),
		schemaString(previewSchema()),
	)
	if err != nil {
		return nil, err
	}
	return parsePreview(out)
}

func (c *ClaudeCLI) ask(ctx context.Context, op, systemPrompt, userPrompt, schema string) (string, error) {
	args := []string{
		"-p", userPrompt,
		"--output-format", "json",
		"--model", c.Model,
		"--system-prompt", systemPrompt,
		"--json-schema", schema,
		"--no-session-persistence",
	}

	c.logger.Debug("invoking claude CLI",
		"op", op,
		"model", c.Model,
		"system_prompt_len", len(systemPrompt),
		"user_prompt_len", len(userPrompt),
		"schema_len", len(schema),
	)

	if c.OnThinking != nil {
		return c.runStreamingCLI(ctx, args)
	}
	return c.runBufferedCLI(ctx, args)
}

func (c *ClaudeCLI) command(ctx context.Context, args []string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Binary, args...)
	cmd.Env = cleanEnv()
	return cmd
}

// runBufferedCLI runs the CLI and captures all output at once.
func (c *ClaudeCLI) runBufferedCLI(ctx context.Context, args []string) (string, error) {
	cmd := c.command(ctx, args)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	startTime := time.Now()
	err := cmd.Run()
	elapsed := time.Since(startTime)

	c.logger.Debug("claude CLI finished",
		"elapsed", elapsed,
		"stdout_bytes", stdout.Len(),
		"stderr_bytes", stderr.Len(),
	)

	if err != nil {
		return "", c.cliError(ctx, err, elapsed, stderr.String())
	}

	if out, ok := unwrapEnvelope(stdout.Bytes()); ok {
		return out, nil
	}
	c.logger.Debug("no envelope found, using raw output", "stdout", truncateStr(stdout.String(), 500))
	return stdout.String(), nil
}

// streamEvent is one line of --output-format stream-json.
type streamEvent struct {
	Type             string          `json:"type"`
	Result           json.RawMessage `json:"result,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
	Delta            struct {
		Text string `json:"text,omitempty"`
	} `json:"delta"`
	Message struct {
		Content []struct {
			Type string `json:"type,omitempty"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"message"`
}

// runStreamingCLI runs the CLI with stream-json output, calling OnThinking for text chunks.
func (c *ClaudeCLI) runStreamingCLI(ctx context.Context, args []string) (string, error) {
	streamArgs := make([]string, 0, len(args)+1)
	for i, a := range args {
		if a == "json" && i > 0 && args[i-1] == "--output-format" {
			a = "stream-json"
		}
		streamArgs = append(streamArgs, a)
	}
	streamArgs = append(streamArgs, "--verbose")

	cmd := c.command(ctx, streamArgs)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("creating stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting claude CLI: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var result string
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event streamEvent
		if err := json.Unmarshal(line, &event); err != nil {
			c.logger.Debug("skipping unparseable stream line", "error", err)
			continue
		}
		switch event.Type {
		case "content_block_delta":
			if event.Delta.Text != "" {
				c.OnThinking(event.Delta.Text)
			}
		case "assistant":
			for _, block := range event.Message.Content {
				if block.Type == "text" && block.Text != "" {
					c.OnThinking(block.Text)
				}
			}
		case "result":
			if out, ok := pickResult(event.StructuredOutput, event.Result); ok {
				result = out
			}
		}
	}

	elapsed := time.Since(startTime)
	if err := cmd.Wait(); err != nil {
		return "", c.cliError(ctx, err, elapsed, stderr.String())
	}
	if result == "" {
		return "", fmt.Errorf("claude CLI stream: %w", ErrEmptyResponse)
	}
	if out, ok := unwrapEnvelope([]byte(result)); ok {
		return out, nil
	}
	return result, nil
}

func (c *ClaudeCLI) cliError(ctx context.Context, err error, elapsed time.Duration, stderr string) error {
	c.logger.Error("claude CLI failed", "error", err, "elapsed", elapsed, "stderr", truncateStr(stderr, 1000))
	if ctx.Err() != nil {
		return fmt.Errorf("claude CLI cancelled after %s: %w", elapsed.Truncate(time.Second), ctx.Err())
	}
	return fmt.Errorf("running claude CLI: %w (stderr: %s)", err, truncateStr(stderr, 500))
}

// unwrapEnvelope extracts the model output from the CLI's JSON envelope,
// preferring structured_output over result.
func unwrapEnvelope(data []byte) (string, bool) {
	var env struct {
		Result           json.RawMessage `json:"result"`
		StructuredOutput json.RawMessage `json:"structured_output"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", false
	}
	return pickResult(env.StructuredOutput, env.Result)
}

func pickResult(structured, result json.RawMessage) (string, bool) {
	if len(structured) > 0 && structured[0] == '{' {
		return string(structured), true
	}
	if len(result) == 0 {
		return "", false
	}
	// result is either a JSON string holding the payload or the payload itself
	var s string
	if err := json.Unmarshal(result, &s); err == nil {
		return s, s != ""
	}
	if result[0] == '{' || result[0] == '[' {
		return string(result), true
	}
	return "", false
}
