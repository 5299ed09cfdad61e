package claude

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/vbonduro/wohnmap/internal/caption"
)

// maxTokens comfortably covers a one-sentence caption.
const maxTokens = 128

type ClaudeCaptioner struct {
	client *anthropic.Client
	model  string
}

func NewClaudeCaptioner(apiKey, model string, opts ...anthropic.ClientOption) *ClaudeCaptioner {
	return &ClaudeCaptioner{
		client: anthropic.NewClient(apiKey, opts...),
		model:  model,
	}
}

func (c *ClaudeCaptioner) Caption(ctx context.Context, r io.Reader, mimeType string) (string, error) {
	imageData, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{{
			Role: anthropic.RoleUser,
			Content: []anthropic.MessageContent{
				anthropic.NewImageMessageContent(anthropic.NewMessageContentSource(
					anthropic.MessagesContentSourceTypeBase64,
					normaliseMIME(mimeType),
					base64.StdEncoding.EncodeToString(imageData),
				)),
				anthropic.NewTextMessageContent(caption.Prompt),
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	return caption.Clean(resp.GetFirstContentText()), nil
}

// normaliseMIME maps browser MIME types to the values the Anthropic API accepts.
func normaliseMIME(mimeType string) string {
	switch mimeType {
	case "image/png", "image/gif", "image/webp":
		return mimeType
	default:
		return "image/jpeg"
	}
}
