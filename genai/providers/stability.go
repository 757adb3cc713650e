package providers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"

	"github.com/c360studio/retouch/genai"
)

// StabilityProvider implements the Stability AI stable-image API.
// Generation only: the registry never routes enhancement or validation
// here.
type StabilityProvider struct{}

func init() {
	genai.RegisterProvider(&StabilityProvider{})
}

// Name returns the provider identifier.
func (s *StabilityProvider) Name() string {
	return "stability"
}

// BuildURL constructs the stable-image endpoint, picking the service tier
// from the model name.
func (s *StabilityProvider) BuildURL(baseURL string, _ genai.Operation, model string) string {
	if baseURL == "" {
		baseURL = "https://api.stability.ai/v2beta"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	switch {
	case strings.Contains(model, "core"):
		return baseURL + "/stable-image/generate/core"
	case strings.Contains(model, "sd3"):
		return baseURL + "/stable-image/generate/sd3"
	default:
		return baseURL + "/stable-image/generate/ultra"
	}
}

// SetHeaders adds Stability authentication headers. The JSON accept type
// makes the API return base64 image data instead of raw bytes.
func (s *StabilityProvider) SetHeaders(req *http.Request) {
	apiKey := os.Getenv("STABILITY_API_KEY")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

// BuildRequestBody assembles the multipart form the stable-image API
// expects. An attached image switches the call to image-to-image mode.
func (s *StabilityProvider) BuildRequestBody(_ string, req *genai.Request) ([]byte, string, error) {
	if req.Op != genai.OpGenerate {
		return nil, "", fmt.Errorf("stability provider supports generation only, got %s", req.Op)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("prompt", req.Prompt); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("output_format", "png"); err != nil {
		return nil, "", err
	}

	if len(req.Images) > 0 {
		mime := genai.DetectImageMIME(req.Images[0])
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="image"; filename="image%s"`, extForMIME(mime)))
		header.Set("Content-Type", mime)

		fw, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(req.Images[0]); err != nil {
			return nil, "", err
		}
		// How far the edit may drift from the input image.
		if err := w.WriteField("strength", "0.6"); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// stabilityResponse is the stable-image JSON response format.
type stabilityResponse struct {
	Image        string `json:"image"`
	FinishReason string `json:"finish_reason"`
}

// ParseResponse extracts the generated image from a Stability response.
func (s *StabilityProvider) ParseResponse(_ genai.Operation, body []byte, model string) (*genai.Response, error) {
	var resp stabilityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse stability response: %w", err)
	}

	if resp.FinishReason == "CONTENT_FILTERED" {
		return nil, fmt.Errorf("stability filtered the generated content")
	}
	if resp.Image == "" {
		return nil, fmt.Errorf("no image in stability response")
	}

	img, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return nil, fmt.Errorf("decode stability image data: %w", err)
	}

	return &genai.Response{
		Image:        img,
		Model:        model,
		FinishReason: resp.FinishReason,
	}, nil
}
