package aiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// =============================================================================
// AWS BEDROCK PROVIDER
// =============================================================================
// Same contract as the OpenAI-compatible provider, but the call never leaves
// AWS. Selected with an api_url of the form bedrock://<region>; the model
// name is the Bedrock model id.

const defaultBedrockModel = "anthropic.claude-3-sonnet-20240229-v1:0"

type bedrockMessage struct {
	Role    string                `json:"role"`
	Content []bedrockContentBlock `json:"content"`
}

type bedrockContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
	Temperature      float64          `json:"temperature,omitempty"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// BedrockClient invokes an Anthropic model through AWS Bedrock.
type BedrockClient struct {
	client   *bedrockruntime.Client
	modelID  string
	settings Settings
}

// NewBedrockClient creates a Bedrock-backed client. The region comes from
// the bedrock:// endpoint; retry attempts are pushed into the AWS config.
func NewBedrockClient(ctx context.Context, st Settings) (*BedrockClient, error) {
	st = st.withDefaults()

	region := strings.TrimPrefix(st.APIURL, bedrockScheme)
	region = strings.Trim(region, "/")
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(st.MaxRetries+1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	modelID := st.ModelName
	if modelID == "" {
		modelID = defaultBedrockModel
	}

	log.Printf("[AIClient] bedrock client ready (model %s, region %s)", modelID, region)
	return &BedrockClient{
		client:   bedrockruntime.NewFromConfig(cfg),
		modelID:  modelID,
		settings: st,
	}, nil
}

// invoke sends one prompt through InvokeModel and concatenates the text blocks.
func (b *BedrockClient) invoke(ctx context.Context, prompt string, maxTokens int) (string, error) {
	request := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		System:           systemPrompt,
		Messages: []bedrockMessage{
			{Role: "user", Content: []bedrockContentBlock{{Type: "text", Text: prompt}}},
		},
		Temperature: b.settings.Temperature,
	}

	requestBody, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICall, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.settings.Timeout)
	defer cancel()

	output, err := b.client.InvokeModel(callCtx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICall, err)
	}

	var response bedrockResponse
	if err := json.Unmarshal(output.Body, &response); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICall, err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%w: empty response", ErrAPICall)
	}
	return strings.TrimSpace(text.String()), nil
}

// AnalyzeColumnMapping runs the single per-sheet call and parses the artifact.
func (b *BedrockClient) AnalyzeColumnMapping(ctx context.Context, sampleRows [][]string, fields []FieldSpec) (*ColumnMapping, error) {
	reply, err := b.invoke(ctx, buildMappingPrompt(sampleRows, fields), b.settings.MaxTokens)
	if err != nil {
		return nil, err
	}

	mapping, err := parseMapping(reply)
	if err != nil {
		return nil, err
	}

	log.Printf("[AIClient] mapped %d columns (header row %d, confidence %.2f)",
		len(mapping.Mappings), mapping.HeaderRow, mapping.Confidence)
	return mapping, nil
}

// TestConnection sends a minimal ping and checks that anything comes back.
func (b *BedrockClient) TestConnection(ctx context.Context) error {
	reply, err := b.invoke(ctx, "Reply with OK.", 10)
	if err != nil {
		return err
	}
	if reply == "" {
		return fmt.Errorf("%w: empty reply", ErrAPICall)
	}
	return nil
}

// Close is a no-op; the SDK client holds no long-lived resources.
func (b *BedrockClient) Close() error {
	return nil
}
