package ai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/christopherklint97/billr/internal/billing"
)

// OpenAI calls the Chat Completions API with JSON-schema response formats.
type OpenAI struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAI(apiKey, model, baseURL string, logger *slog.Logger) *OpenAI {
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

func (o *OpenAI) GroupEmails(ctx context.Context, req GroupRequest) ([]Group, error) {
	if len(req.Emails) == 0 {
		return nil, nil
	}
	out, err := o.complete(ctx, "email_groups",
		buildGroupingSystemPrompt(req.Context),
		buildGroupingUserPrompt(req.Emails),
		groupingSchema(),
	)
	if err != nil {
		return nil, err
	}
	return parseGrouping(out, req.Emails)
}

func (o *OpenAI) ClassifyEmail(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	out, err := o.complete(ctx, "email_classification",
		buildClassifySystemPrompt(req.Context),
		buildClassifyUserPrompt(req.Email),
		classificationSchema(),
	)
	if err != nil {
		return nil, err
	}
	return parseClassification(out)
}

func (o *OpenAI) DraftPreview(ctx context.Context, req DraftRequest) (*billing.Preview, error) {
	out, err := o.complete(ctx, "billing_preview",
		buildDraftSystemPrompt(req.Context),
		buildDraftUserPrompt(req.Text),
		previewSchema(),
	)
	if err != nil {
		return nil, err
	}
	return parsePreview(out)
}

func (o *OpenAI) complete(ctx context.Context, name, systemPrompt, userPrompt string, schema *jsonschema.Schema) (string, error) {
	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
				},
			},
		},
	})
	if err != nil {
		o.logger.Error("openai request failed", "op", name, "error", err, "elapsed", time.Since(start))
		return "", fmt.Errorf("openai %s: %w", name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai %s: %w", name, ErrEmptyResponse)
	}

	o.logger.Debug("openai response",
		"op", name,
		"model", resp.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed", time.Since(start),
	)
	return resp.Choices[0].Message.Content, nil
}
