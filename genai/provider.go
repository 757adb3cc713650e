package genai

import (
	"net/http"
	"strings"
	"sync"
)

// Provider defines the interface for model provider implementations.
// Implementations translate the operation-shaped Request into each
// provider's wire format and back.
type Provider interface {
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string

	// BuildURL constructs the full API endpoint URL for an operation.
	BuildURL(baseURL string, op Operation, model string) string

	// SetHeaders adds provider-specific headers to the request.
	// API keys are read from provider environment variables here.
	SetHeaders(req *http.Request)

	// BuildRequestBody creates the request body. The returned content
	// type is set on the HTTP request; providers using multipart forms
	// return the boundary-bearing type from the writer.
	BuildRequestBody(model string, req *Request) (body []byte, contentType string, err error)

	// ParseResponse extracts the response from provider-specific JSON.
	ParseResponse(op Operation, body []byte, model string) (*Response, error)
}

// providerRegistry holds registered providers.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	return names
}

// DetectImageMIME sniffs the MIME type of image bytes, defaulting to PNG
// for anything the sniffer does not recognize as an image.
func DetectImageMIME(data []byte) string {
	mt := http.DetectContentType(data)
	if !strings.HasPrefix(mt, "image/") {
		return "image/png"
	}
	return mt
}
