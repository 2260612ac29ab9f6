// Package specgen wraps the LLM-backed building-specification provider.
// The pipeline treats its output as an opaque, already-validated JSON
// document; nothing downstream ever asks the model a second question.
package specgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/yungbote/archsheet-backend/internal/platform/envutil"
	"github.com/yungbote/archsheet-backend/internal/platform/logger"
)

// Client produces a building specification from a natural-language brief.
type Client interface {
	GenerateBuildingSpec(ctx context.Context, brief string) (json.RawMessage, error)
}

type openaiClient struct {
	log   *logger.Logger
	model string
	opts  []option.RequestOption
}

const systemPrompt = `You are an architectural program assistant. Given a
client brief, emit a single JSON object describing the building:
design_id, building_type, style, floors, facade_width_m, facade_depth_m,
facade_height_m, roof_type, roof_pitch_deg, party_walls (list of compass
sides), materials (map), room_program (list of {name, level, area_m2}).
Output JSON only, no commentary.`

// NewOpenAIClient builds the provider from env config.
func NewOpenAIClient(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("missing env var OPENAI_API_KEY")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiClient{
		log:   log.With("client", "SpecGenClient"),
		model: envutil.Str("SPECGEN_MODEL", "gpt-4o-mini"),
		opts:  opts,
	}, nil
}

func (c *openaiClient) GenerateBuildingSpec(ctx context.Context, brief string) (json.RawMessage, error) {
	client := openai.NewClient(c.opts...)

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(brief),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("specgen: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("specgen: empty choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = stripCodeFence(content)

	// Validate it is at least well-formed JSON before handing it on.
	var probe map[string]any
	if err := json.Unmarshal([]byte(content), &probe); err != nil {
		return nil, fmt.Errorf("specgen: model returned invalid JSON: %w", err)
	}
	return json.RawMessage(content), nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
