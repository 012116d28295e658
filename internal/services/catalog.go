package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/hanna4328/chat-bot/internal/models"
)

// ModelCatalog lists the models the configured key may call.
type ModelCatalog struct {
	apiKey   string
	endpoint string
}

// NewModelCatalog builds a catalog. endpoint is a scheme://host base URL;
// empty uses the SDK default.
func NewModelCatalog(apiKey, endpoint string) *ModelCatalog {
	return &ModelCatalog{apiKey: apiKey, endpoint: endpoint}
}

func (c *ModelCatalog) List(ctx context.Context) ([]models.ModelSummary, error) {
	if c.apiKey == "" {
		return nil, &MisconfiguredError{Message: "Server missing API key"}
	}

	opts := []option.ClientOption{option.WithAPIKey(c.apiKey)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}

	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, &MisconfiguredError{Message: fmt.Sprintf("failed to create Gemini client: %v", err)}
	}
	defer client.Close()

	var out []models.ModelSummary
	it := client.ListModels(ctx)
	for {
		m, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, classifySDKError(err, c.apiKey)
		}
		out = append(out, summarizeModel(m))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func summarizeModel(m *genai.ModelInfo) models.ModelSummary {
	return models.ModelSummary{
		Name:              normalizeModelID(m.Name),
		DisplayName:       m.DisplayName,
		Description:       m.Description,
		InputTokenLimit:   m.InputTokenLimit,
		OutputTokenLimit:  m.OutputTokenLimit,
		GenerationMethods: m.SupportedGenerationMethods,
	}
}

// SupportsGenerateContent reports whether a model can serve /api/generate.
func SupportsGenerateContent(m models.ModelSummary) bool {
	for _, method := range m.GenerationMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

// classifySDKError keeps upstream HTTP replies distinguishable from transport faults.
// The SDK sends the key as a query parameter, so transport errors are scrubbed.
func classifySDKError(err error, apiKey string) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code != 0 {
		return &UpstreamRejectedError{
			Status:      gerr.Code,
			Body:        []byte(gerr.Body),
			ContentType: "application/json",
			RetryAfter:  gerr.Header.Get("Retry-After"),
		}
	}
	return &UpstreamUnreachableError{Err: scrubKey(err, apiKey)}
}

// scrubKey drops URL queries from err and, if the key still shows up,
// replaces err with a redacted copy of its text.
func scrubKey(err error, apiKey string) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		if u, perr := url.Parse(uerr.URL); perr == nil {
			u.RawQuery = ""
			uerr.URL = u.String()
		} else {
			uerr.URL = "<REDACTED>"
		}
	}
	if apiKey != "" && strings.Contains(err.Error(), apiKey) {
		return errors.New(strings.ReplaceAll(err.Error(), apiKey, "<REDACTED>"))
	}
	return err
}
