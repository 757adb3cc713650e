package providers

import (
	"encoding/base64"
	"testing"

	"github.com/c360studio/retouch/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngBytes carries the PNG signature so MIME sniffing sees a real image.
var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

func TestGeminiProvider_BuildURL(t *testing.T) {
	p := &GeminiProvider{}

	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{
			name:    "empty uses default",
			baseURL: "",
			want:    "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent",
		},
		{
			name:    "custom base URL",
			baseURL: "https://custom.api.com/v1beta",
			want:    "https://custom.api.com/v1beta/models/gemini-2.5-flash:generateContent",
		},
		{
			name:    "trailing slash handled",
			baseURL: "https://generativelanguage.googleapis.com/v1beta/",
			want:    "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.BuildURL(tt.baseURL, genai.OpEnhance, "gemini-2.5-flash")
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGeminiProvider_BuildRequestBody_TextWithImage(t *testing.T) {
	p := &GeminiProvider{}

	body, contentType, err := p.BuildRequestBody("gemini-2.5-flash", &genai.Request{
		Op:        genai.OpEnhance,
		Prompt:    "brighten the sky",
		Images:    [][]byte{pngBytes},
		MaxTokens: 2048,
	})
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	assert.Contains(t, string(body), `"text":"brighten the sky"`)
	assert.Contains(t, string(body), `"mimeType":"image/png"`)
	assert.Contains(t, string(body), `"maxOutputTokens":2048`)
	assert.NotContains(t, string(body), `"responseModalities"`)
}

func TestGeminiProvider_BuildRequestBody_Generate(t *testing.T) {
	p := &GeminiProvider{}

	body, _, err := p.BuildRequestBody("gemini-2.5-flash-image", &genai.Request{
		Op:     genai.OpGenerate,
		Prompt: "brighten the sky",
		Images: [][]byte{pngBytes},
	})
	require.NoError(t, err)

	// Image models need the image modality enabled explicitly.
	assert.Contains(t, string(body), `"responseModalities":["TEXT","IMAGE"]`)
}

func TestGeminiProvider_ParseResponse_Text(t *testing.T) {
	p := &GeminiProvider{}

	responseBody := []byte(`{
		"candidates": [
			{
				"content": {
					"parts": [
						{"text": "Brighten the sky. "},
						{"text": "Keep everything else unchanged."}
					]
				},
				"finishReason": "STOP"
			}
		],
		"usageMetadata": {
			"promptTokenCount": 15,
			"candidatesTokenCount": 8,
			"totalTokenCount": 23
		}
	}`)

	resp, err := p.ParseResponse(genai.OpEnhance, responseBody, "gemini-2.5-flash")
	require.NoError(t, err)

	assert.Equal(t, "Brighten the sky. Keep everything else unchanged.", resp.Text)
	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 15, resp.Usage.PromptTokens)
	assert.Equal(t, 23, resp.Usage.TotalTokens)
}

func TestGeminiProvider_ParseResponse_Image(t *testing.T) {
	p := &GeminiProvider{}

	encoded := base64.StdEncoding.EncodeToString(pngBytes)
	responseBody := []byte(`{
		"candidates": [
			{
				"content": {
					"parts": [
						{"inlineData": {"mimeType": "image/png", "data": "` + encoded + `"}}
					]
				},
				"finishReason": "STOP"
			}
		]
	}`)

	resp, err := p.ParseResponse(genai.OpGenerate, responseBody, "gemini-2.5-flash-image")
	require.NoError(t, err)

	assert.Equal(t, pngBytes, resp.Image)
}

func TestGeminiProvider_ParseResponse_Errors(t *testing.T) {
	p := &GeminiProvider{}

	tests := []struct {
		name    string
		op      genai.Operation
		body    string
		wantErr string
	}{
		{
			name:    "blocked prompt",
			op:      genai.OpGenerate,
			body:    `{"promptFeedback": {"blockReason": "SAFETY"}}`,
			wantErr: "blocked prompt",
		},
		{
			name:    "no candidates",
			op:      genai.OpEnhance,
			body:    `{"candidates": []}`,
			wantErr: "no candidates",
		},
		{
			name:    "generate without image part",
			op:      genai.OpGenerate,
			body:    `{"candidates": [{"content": {"parts": [{"text": "cannot comply"}]}, "finishReason": "STOP"}]}`,
			wantErr: "no image",
		},
		{
			name:    "invalid base64 image data",
			op:      genai.OpGenerate,
			body:    `{"candidates": [{"content": {"parts": [{"inlineData": {"mimeType": "image/png", "data": "!!!"}}]}}]}`,
			wantErr: "decode gemini image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseResponse(tt.op, []byte(tt.body), "gemini-2.5-flash-image")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
