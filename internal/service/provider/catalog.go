package provider

import (
	"github.com/zjregee/convo/internal/models"
)

const DefaultModelID = "gpt-4o-mini"

var availableModels = []*models.ModelInfo{
	{ID: "gpt-5.2", Name: "GPT-5.2", Provider: models.ProviderOpenAI},
	{ID: "gpt-5.1", Name: "GPT-5.1", Provider: models.ProviderOpenAI},
	{ID: "gpt-5", Name: "GPT-5", Provider: models.ProviderOpenAI},
	{ID: "gpt-5-mini", Name: "GPT-5 Mini", Provider: models.ProviderOpenAI},
	{ID: "gpt-5-nano", Name: "GPT-5 Nano", Provider: models.ProviderOpenAI},
	{ID: "o3", Name: "o3", Provider: models.ProviderOpenAI, Description: "Reasoning model"},
	{ID: "o3-mini", Name: "o3 Mini", Provider: models.ProviderOpenAI, Description: "Reasoning model"},
	{ID: "o4-mini", Name: "o4 Mini", Provider: models.ProviderOpenAI, Description: "Reasoning model"},
	{ID: "o1", Name: "o1", Provider: models.ProviderOpenAI, Description: "Reasoning model"},
	{ID: "gpt-4o-search-preview", Name: "GPT-4o Search Preview", Provider: models.ProviderOpenAI},
	{ID: "gpt-4o-mini-search-preview", Name: "GPT-4o Mini Search Preview", Provider: models.ProviderOpenAI},
	{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: models.ProviderOpenAI},
	{ID: "gpt-4o", Name: "GPT-4o", Provider: models.ProviderOpenAI},
	{ID: "gpt-4o-2024-05-13", Name: "GPT-4o (2024-05-13)", Provider: models.ProviderOpenAI},
	{ID: "gpt-4o-2024-08-06", Name: "GPT-4o (2024-08-06)", Provider: models.ProviderOpenAI},
	{ID: "gpt-4o-2024-11-20", Name: "GPT-4o (2024-11-20)", Provider: models.ProviderOpenAI},
	{ID: "gpt-4", Name: "GPT-4", Provider: models.ProviderOpenAI},
	{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", Provider: models.ProviderOpenAI},
	{ID: "gpt-4-turbo-preview", Name: "GPT-4 Turbo Preview", Provider: models.ProviderOpenAI},

	{ID: "claude-opus-4.5", Name: "Claude Opus 4.5", Provider: models.ProviderAnthropic},
	{ID: "claude-sonnet-4.5", Name: "Claude Sonnet 4.5", Provider: models.ProviderAnthropic},
	{ID: "claude-haiku-4.5", Name: "Claude Haiku 4.5", Provider: models.ProviderAnthropic},
	{ID: "claude-sonnet-4.5-1m", Name: "Claude Sonnet 4.5 (1M)", Provider: models.ProviderAnthropic},
	{ID: "claude-opus-4.1", Name: "Claude Opus 4.1", Provider: models.ProviderAnthropic},
	{ID: "claude-sonnet-4", Name: "Claude Sonnet 4", Provider: models.ProviderAnthropic},
	{ID: "claude-sonnet-4-1m", Name: "Claude Sonnet 4 (1M)", Provider: models.ProviderAnthropic},
	{ID: "claude-opus-4", Name: "Claude Opus 4", Provider: models.ProviderAnthropic},

	{ID: "gemini-3-pro", Name: "Gemini 3 Pro", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-flash-image", Name: "Gemini 2.5 Flash Image", Provider: models.ProviderGemini},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: models.ProviderGemini},
	{ID: "gemini-2.0-flash-lite-preview", Name: "Gemini 2.0 Flash Lite Preview", Provider: models.ProviderGemini},
	{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", Provider: models.ProviderGemini},
	{ID: "gemini-2.0-pro-experimental", Name: "Gemini 2.0 Pro Experimental", Provider: models.ProviderGemini},
	{ID: "gemini-experimental-1114", Name: "Gemini Experimental 1114", Provider: models.ProviderGemini},
	{ID: "gemini-experimental-1121", Name: "Gemini Experimental 1121", Provider: models.ProviderGemini},
	{ID: "gemini-experimental-1206", Name: "Gemini Experimental 1206", Provider: models.ProviderGemini},
	{ID: "gemini-2.0-flash-experimental", Name: "Gemini 2.0 Flash Experimental", Provider: models.ProviderGemini},
	{ID: "gemini-2.0-flash-thinking-experimental", Name: "Gemini 2.0 Flash Thinking Experimental", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-flash-preview-04", Name: "Gemini 2.5 Flash Preview (04)", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-flash-05-20", Name: "Gemini 2.5 Flash (05-20)", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-flash-09-25", Name: "Gemini 2.5 Flash (09-25)", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-flash-lite-06-17", Name: "Gemini 2.5 Flash Lite (06-17)", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-flash-lite-09-25", Name: "Gemini 2.5 Flash Lite (09-25)", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-pro-preview-03-25", Name: "Gemini 2.5 Pro Preview (03-25)", Provider: models.ProviderGemini},
	{ID: "gemini-2.5-pro-05-06", Name: "Gemini 2.5 Pro (05-06)", Provider: models.ProviderGemini},

	{ID: "groq/llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile", Provider: models.ProviderGroq},
	{ID: "groq/llama-3.1-8b-instant", Name: "Llama 3.1 8B Instant", Provider: models.ProviderGroq},
}

func Catalog() []*models.ModelInfo {
	infos := make([]*models.ModelInfo, len(availableModels))
	copy(infos, availableModels)
	return infos
}

func CatalogFor(p models.Provider) []*models.ModelInfo {
	infos := make([]*models.ModelInfo, 0)
	for _, info := range availableModels {
		if info.Provider == p {
			infos = append(infos, info)
		}
	}
	return infos
}

func LookupModel(id string) (*models.ModelInfo, bool) {
	for _, info := range availableModels {
		if info.ID == id {
			return info, true
		}
	}
	return nil, false
}
