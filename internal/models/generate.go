package models

import "encoding/json"

const (
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 512
)

// GenerateRequest is the payload accepted by POST /api/generate.
// Optional fields are pointers so an explicit zero is distinguishable from absent.
type GenerateRequest struct {
	Prompt          string   `json:"prompt"`
	ModelID         string   `json:"modelId,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

// GenerateResponse is the normalized success payload.
type GenerateResponse struct {
	Text string `json:"text"`
}

type ModelSummary struct {
	Name              string   `json:"name"`
	DisplayName       string   `json:"display_name,omitempty"`
	Description       string   `json:"description,omitempty"`
	InputTokenLimit   int32    `json:"input_token_limit,omitempty"`
	OutputTokenLimit  int32    `json:"output_token_limit,omitempty"`
	GenerationMethods []string `json:"generation_methods,omitempty"`
}

type ModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// APIError is the locally produced error body. Raw carries the upstream body
// when it could not be normalized.
type APIError struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id,omitempty"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
