package services

import (
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// extractionStrategy pulls the answer text out of one known response shape.
// It reports false when the shape does not match or holds no text.
type extractionStrategy struct {
	name    string
	extract func(body []byte) (string, bool)
}

// Strategies are tried in order; a new provider shape is one more entry.
var extractionStrategies = []extractionStrategy{
	{"gemini.candidates.parts", extractGeminiParts},
	{"palm.candidates.output", extractPalmOutput},
	{"openai.choices.message", extractOpenAIChoice},
	{"flat.text", extractFlatText},
}

// Normalize returns the answer text and the name of the strategy that found it.
func Normalize(body []byte) (string, string, error) {
	for _, s := range extractionStrategies {
		if text, ok := s.extract(body); ok {
			return text, s.name, nil
		}
	}
	return "", "", &UpstreamShapeMismatchError{Raw: body}
}

// geminiResponse covers generateContent replies.
type geminiResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
			Role string `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// extractGeminiParts joins the text parts of the first candidate.
func extractGeminiParts(body []byte) (string, bool) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Candidates) == 0 {
		return "", false
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return "", false
	}

	var text strings.Builder
	found := false
	for _, part := range content.Parts {
		if part.Text != nil {
			text.WriteString(*part.Text)
			found = true
		}
	}
	if !found || text.Len() == 0 {
		return "", false
	}
	return text.String(), true
}

// extractPalmOutput handles the legacy generateText shape {candidates:[{output}]}.
func extractPalmOutput(body []byte) (string, bool) {
	var resp struct {
		Candidates []struct {
			Output string `json:"output"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Candidates) == 0 {
		return "", false
	}
	if resp.Candidates[0].Output == "" {
		return "", false
	}
	return resp.Candidates[0].Output, true
}

// extractOpenAIChoice handles OpenAI-compatible gateways in front of the model.
func extractOpenAIChoice(body []byte) (string, bool) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil || len(resp.Choices) == 0 {
		return "", false
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", false
	}
	return content, true
}

// extractFlatText accepts an already-normalized {text} body.
func extractFlatText(body []byte) (string, bool) {
	var resp struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Text == nil || *resp.Text == "" {
		return "", false
	}
	return *resp.Text, true
}
