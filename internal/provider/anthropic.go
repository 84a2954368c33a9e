package provider

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// anthropicBackend speaks the Anthropic Messages API, either directly or
// through AWS Bedrock.
type anthropicBackend struct {
	name   string
	client anthropic.Client
	model  anthropic.Model
	hasKey bool
}

const defaultAnthropicMaxTokens = 8192

func newAnthropicBackend(reg Registration) (Backend, error) {
	var opts []option.RequestOption
	hasKey := false

	if reg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if reg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(reg.AWSRegion))
		}
		if reg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(reg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
		hasKey = true
	} else if reg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(reg.APIKey))
		hasKey = true
	}
	if reg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(reg.BaseURL))
	}

	model := anthropic.Model(reg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if reg.UseBedrock {
		model = translateModelForBedrock(model)
	}

	return &anthropicBackend{
		name:   reg.Name,
		client: anthropic.NewClient(opts...),
		model:  model,
		hasKey: hasKey,
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to Bedrock
// cross-region inference profile format (us.anthropic.{model}-v1:0).
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}
	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

func (b *anthropicBackend) Name() string { return b.name }

func (b *anthropicBackend) Credentialed() bool { return b.hasKey }

func (b *anthropicBackend) Chat(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})

		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}

		case RoleTool:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, msg.IsError)))
		}
	}

	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     b.model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  messages,
		Tools:     anthropicTools(req.Tools),
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic call: %w", err)
	}

	out := &Response{
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			out.Text += variant.Text
		case anthropic.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: variant.Input,
			})
		}
	}

	return out, nil
}

func anthropicTools(schemas []ToolSchema) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		properties, _ := s.Parameters["properties"].(map[string]any)
		tools = append(tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Name,
				Description: anthropic.String(s.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
					Required:   requiredFields(s.Parameters),
				},
			},
		})
	}
	return tools
}

// requiredFields extracts the "required" list from a JSON-schema object,
// tolerating both []string and []any representations.
func requiredFields(params map[string]any) []string {
	switch req := params["required"].(type) {
	case []string:
		return req
	case []any:
		fields := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				fields = append(fields, s)
			}
		}
		return fields
	}
	return nil
}
