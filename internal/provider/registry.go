package provider

import (
	"fmt"
	"strings"
)

// NewProtocol creates the transport for a provider type
func NewProtocol(providerType, endpoint, apiKey string) (Protocol, error) {
	switch strings.ToLower(providerType) {
	case "pioneer", "":
		return NewPioneerProvider(endpoint, apiKey), nil
	case "openai", "local", "custom":
		// All use OpenAI-compatible protocol
		return NewOpenAIProvider(endpoint, apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}
