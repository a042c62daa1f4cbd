package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/ShayCichocki/triad/internal/logging"
	"github.com/ShayCichocki/triad/pkg/models"
)

// APIConfig configures the Anthropic API worker backend.
type APIConfig struct {
	// Model defaults to Claude Sonnet 4.
	Model anthropic.Model
	// APIKey falls back to ANTHROPIC_API_KEY.
	APIKey    string
	MaxTokens int64

	UseAWSBedrock bool
	AWSRegion     string
	AWSProfile    string
}

// messageSender is the slice of the SDK's MessageService the executor uses.
type messageSender interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// APIExecutor runs each task as a single Messages API call. The call runs
// in the background; Terminate and Kill cancel it.
type APIExecutor struct {
	sender    messageSender
	model     anthropic.Model
	maxTokens int64
	briefings BriefingSource
	log       *logging.Logger

	mu      sync.Mutex
	workers map[Handle]*apiWorker
	seq     int

	usageMu      sync.Mutex
	inputTokens  int64
	outputTokens int64
}

type apiWorker struct {
	cancel context.CancelFunc

	mu    sync.Mutex
	lines []string

	done     chan struct{}
	exitCode int
	err      error
}

// NewAPIExecutor builds an SDK client from cfg, using AWS Bedrock when
// configured.
func NewAPIExecutor(cfg APIConfig, briefings BriefingSource, log *logging.Logger) (*APIExecutor, error) {
	var opts []option.RequestOption
	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = bedrockModel(model)
	}
	return newAPIExecutor(&client.Messages, model, cfg.MaxTokens, briefings, log), nil
}

func newAPIExecutor(sender messageSender, model anthropic.Model, maxTokens int64, briefings BriefingSource, log *logging.Logger) *APIExecutor {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &APIExecutor{
		sender:    sender,
		model:     model,
		maxTokens: maxTokens,
		briefings: briefings,
		log:       log.Named("api"),
		workers:   make(map[Handle]*apiWorker),
	}
}

// bedrockModel maps Anthropic model names to Bedrock cross-region
// inference profiles. Unknown names pass through.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaudeOpus4_5_20251101:   "us.anthropic.claude-opus-4-5-20251101-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

func systemPrompt(role models.Role, tools []string) string {
	return fmt.Sprintf("You are the %s agent in a three-role software team (supervisor, coder, adversary). "+
		"Work only on the task you are given. Tools available to you: %s.",
		strings.ToLower(string(role)), strings.Join(tools, ", "))
}

// Spawn starts the API call for the briefing's prompt.
func (e *APIExecutor) Spawn(_ context.Context, role models.Role, briefingKey string) (Handle, error) {
	b, err := loadBriefing(e.briefings, role, briefingKey)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &apiWorker{cancel: cancel, done: make(chan struct{})}

	e.mu.Lock()
	e.seq++
	h := Handle(fmt.Sprintf("api-%s-%d", role.Slug(), e.seq))
	e.workers[h] = w
	e.mu.Unlock()

	params := anthropic.MessageNewParams{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt(role, b.AllowedTools)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.Prompt)),
		},
	}

	go func() {
		defer close(w.done)
		defer cancel()

		msg, err := e.sender.New(ctx, params)
		switch {
		case ctx.Err() != nil:
			w.exitCode = -1
			w.append("[error] request cancelled")
			return
		case err != nil:
			w.exitCode = 1
			w.append("[error] " + err.Error())
			return
		}

		e.usageMu.Lock()
		e.inputTokens += msg.Usage.InputTokens
		e.outputTokens += msg.Usage.OutputTokens
		e.usageMu.Unlock()

		for _, block := range msg.Content {
			if block.Type != "text" {
				continue
			}
			for _, line := range strings.Split(block.Text, "\n") {
				if strings.TrimSpace(line) != "" {
					w.append(line)
				}
			}
		}
		if msg.StopReason == anthropic.StopReasonMaxTokens {
			w.append("[warning] response truncated at max tokens")
		}
	}()

	e.log.Log("requested %s for %s (%s)", e.model, b.TaskID, h)
	return h, nil
}

func (w *apiWorker) append(line string) {
	w.mu.Lock()
	w.lines = append(w.lines, line)
	w.mu.Unlock()
}

func (e *APIExecutor) get(h Handle) (*apiWorker, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[h]
	if !ok {
		return nil, fmt.Errorf("%s: %w", h, ErrUnknownHandle)
	}
	return w, nil
}

// Poll returns response lines once available and whether the call is
// still in flight.
func (e *APIExecutor) Poll(h Handle) ([]string, bool) {
	w, err := e.get(h)
	if err != nil {
		return nil, false
	}
	w.mu.Lock()
	lines := w.lines
	w.lines = nil
	w.mu.Unlock()

	select {
	case <-w.done:
		return lines, false
	default:
		return lines, true
	}
}

// Terminate cancels the request.
func (e *APIExecutor) Terminate(h Handle) error {
	w, err := e.get(h)
	if err != nil {
		return err
	}
	w.cancel()
	return nil
}

// Kill is the same as Terminate; there is no process to signal.
func (e *APIExecutor) Kill(h Handle) error {
	return e.Terminate(h)
}

// Release forgets h, cancelling the request if it is still in flight.
func (e *APIExecutor) Release(h Handle) {
	e.mu.Lock()
	w, ok := e.workers[h]
	delete(e.workers, h)
	e.mu.Unlock()
	if ok {
		w.cancel()
	}
}

// Wait blocks up to timeout for the request to finish.
func (e *APIExecutor) Wait(h Handle, timeout time.Duration) (int, error) {
	w, err := e.get(h)
	if err != nil {
		return -1, err
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return w.exitCode, w.err
	case <-timer.C:
		return -1, ErrWaitTimeout
	}
}

// Usage returns the tokens consumed so far.
func (e *APIExecutor) Usage() (input, output int64) {
	e.usageMu.Lock()
	defer e.usageMu.Unlock()
	return e.inputTokens, e.outputTokens
}

var _ Executor = (*APIExecutor)(nil)
