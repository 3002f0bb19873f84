// README: Gemini call with conversation history.
package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const geminiModel = "gemini-2.0-flash"

const systemPrompt = "You are HemoHive's donor assistant. Answer questions about " +
	"blood donation eligibility, donation intervals, blood group compatibility, " +
	"and how borrow credits and returns work. Keep answers short and practical. " +
	"Never give individual medical advice; refer such questions to a clinician."

// callGemini sends the transcript plus the new message to Gemini and returns
// the reply text.
func callGemini(ctx context.Context, apiKey string, history []Turn, message string) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", fmt.Errorf("gemini: missing api key")
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("gemini: empty message")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return "", fmt.Errorf("gemini: create client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(geminiModel)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	chat := model.StartChat()
	for _, t := range history {
		chat.History = append(chat.History, &genai.Content{
			Role:  t.Role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}

	resp, err := chat.SendMessage(ctx, genai.Text(message))
	if err != nil {
		return "", fmt.Errorf("gemini: send message: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini: empty candidates")
	}

	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok && strings.TrimSpace(string(txt)) != "" {
			parts = append(parts, string(txt))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("gemini: empty text parts")
	}
	return strings.Join(parts, "\n"), nil
}
