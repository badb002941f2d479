package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ModelInfo describes one model offered by a remote API.
type ModelInfo struct {
	ID      string
	OwnedBy string
	Created int64
}

// ListOpenAIModels returns the chat-capable models the API key can use,
// sorted by id.
func ListOpenAIModels(ctx context.Context, apiKey, baseURL string) ([]ModelInfo, error) {
	options := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	client := openai.NewClient(options...)

	var models []ModelInfo
	iter := client.Models.ListAutoPaging(ctx)
	for iter.Next() {
		m := iter.Current()
		if !isChatModel(m.ID) {
			continue
		}
		models = append(models, ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy, Created: m.Created})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

func isChatModel(id string) bool {
	for _, prefix := range []string{"gpt-", "o1", "o3", "o4", "chatgpt-"} {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}
