package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const ocrPrompt = "Transcribe all legible text visible in this image exactly as it appears, " +
	"one line per visual line. Respond with the text only. If there is no text, respond with NO_TEXT."

const noText = "NO_TEXT"

// OpenAIReader reads text with a vision-capable chat model.
type OpenAIReader struct {
	client *openai.Client
	model  string
}

// NewOpenAIReader returns a reader using model (for example "gpt-4o-mini").
func NewOpenAIReader(client *openai.Client, model string) *OpenAIReader {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIReader{client: client, model: model}
}

// ReadText implements Reader.
func (r *OpenAIReader) ReadText(ctx context.Context, image []byte) (Result, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", http.DetectContentType(image), base64.StdEncoding.EncodeToString(image))

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: ocrPrompt},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("OpenAI OCR request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("OpenAI OCR returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == noText {
		text = ""
	}
	return Result{Text: text}, nil
}
