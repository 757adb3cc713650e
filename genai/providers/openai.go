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

// OpenAIProvider implements the OpenAI API: chat completions with vision
// input for the text operations, the image edits endpoint for generation.
type OpenAIProvider struct{}

func init() {
	genai.RegisterProvider(&OpenAIProvider{})
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// BuildURL constructs the operation-specific OpenAI endpoint.
func (o *OpenAIProvider) BuildURL(baseURL string, op genai.Operation, _ string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if op == genai.OpGenerate {
		return baseURL + "/images/edits"
	}
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds OpenAI authentication headers.
func (o *OpenAIProvider) SetHeaders(req *http.Request) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

// openaiChatRequest is the chat completions request format.
type openaiChatRequest struct {
	Model               string          `json:"model"`
	Messages            []openaiMessage `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
}

type openaiMessage struct {
	Role    string              `json:"role"`
	Content []openaiContentPart `json:"content"`
}

type openaiContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openaiImageURL `json:"image_url,omitempty"`
}

type openaiImageURL struct {
	URL string `json:"url"`
}

// BuildRequestBody creates the operation-specific request body: JSON for
// the text operations, multipart form data for image edits.
func (o *OpenAIProvider) BuildRequestBody(model string, req *genai.Request) ([]byte, string, error) {
	if req.Op == genai.OpGenerate {
		return o.buildImageEditBody(model, req)
	}

	parts := []openaiContentPart{{Type: "text", Text: req.Prompt}}
	for _, img := range req.Images {
		mime := genai.DetectImageMIME(img)
		parts = append(parts, openaiContentPart{
			Type: "image_url",
			ImageURL: &openaiImageURL{
				URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img),
			},
		})
	}

	body := openaiChatRequest{
		Model:               model,
		Messages:            []openaiMessage{{Role: "user", Content: parts}},
		MaxCompletionTokens: req.MaxTokens,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	return data, "application/json", nil
}

// buildImageEditBody assembles the multipart form for the edits endpoint.
func (o *OpenAIProvider) buildImageEditBody(model string, req *genai.Request) ([]byte, string, error) {
	if len(req.Images) == 0 {
		return nil, "", fmt.Errorf("openai image edit requires a base image")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("prompt", req.Prompt); err != nil {
		return nil, "", err
	}

	mime := genai.DetectImageMIME(req.Images[0])
	// The edits endpoint rejects parts typed application/octet-stream, so
	// the image part carries an explicit content type.
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
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// extForMIME maps an image MIME type to a filename extension.
func extForMIME(mime string) string {
	switch mime {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// openaiChatResponse is the chat completions response format.
type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// openaiImageResponse is the images endpoint response format.
type openaiImageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
		URL     string `json:"url"`
	} `json:"data"`
}

// ParseResponse extracts content from an OpenAI response.
func (o *OpenAIProvider) ParseResponse(op genai.Operation, body []byte, model string) (*genai.Response, error) {
	if op == genai.OpGenerate {
		var resp openaiImageResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("parse openai image response: %w", err)
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("no data in openai image response")
		}
		out := &genai.Response{Model: model, Locator: resp.Data[0].URL}
		if resp.Data[0].B64JSON != "" {
			img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
			if err != nil {
				return nil, fmt.Errorf("decode openai image data: %w", err)
			}
			out.Image = img
		}
		if len(out.Image) == 0 {
			return nil, fmt.Errorf("no image bytes in openai response")
		}
		return out, nil
	}

	var resp openaiChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in openai response")
	}

	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}

	return &genai.Response{
		Text:         resp.Choices[0].Message.Content,
		Model:        respModel,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: genai.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
