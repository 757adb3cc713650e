package providers

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"testing"

	"github.com/c360studio/retouch/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStabilityProvider_BuildURL(t *testing.T) {
	p := &StabilityProvider{}

	tests := []struct {
		name  string
		model string
		want  string
	}{
		{
			name:  "ultra default",
			model: "stable-image-ultra",
			want:  "https://api.stability.ai/v2beta/stable-image/generate/ultra",
		},
		{
			name:  "core tier",
			model: "stable-image-core",
			want:  "https://api.stability.ai/v2beta/stable-image/generate/core",
		},
		{
			name:  "sd3 tier",
			model: "sd3.5-large",
			want:  "https://api.stability.ai/v2beta/stable-image/generate/sd3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.BuildURL("", genai.OpGenerate, tt.model)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStabilityProvider_BuildRequestBody(t *testing.T) {
	p := &StabilityProvider{}

	body, contentType, err := p.BuildRequestBody("stable-image-ultra", &genai.Request{
		Op:     genai.OpGenerate,
		Prompt: "brighten the sky",
		Images: [][]byte{pngBytes},
	})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	require.Equal(t, "multipart/form-data", mediaType)

	fields := map[string]string{}
	var imageData []byte
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		if part.FormName() == "image" {
			imageData = data
			continue
		}
		fields[part.FormName()] = string(data)
	}

	assert.Equal(t, "brighten the sky", fields["prompt"])
	assert.Equal(t, "png", fields["output_format"])
	assert.Equal(t, "0.6", fields["strength"])
	assert.Equal(t, pngBytes, imageData)
}

func TestStabilityProvider_BuildRequestBody_GenerationOnly(t *testing.T) {
	p := &StabilityProvider{}

	for _, op := range []genai.Operation{genai.OpEnhance, genai.OpValidate} {
		_, _, err := p.BuildRequestBody("stable-image-ultra", &genai.Request{
			Op:     op,
			Prompt: "x",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "generation only")
	}
}

func TestStabilityProvider_BuildRequestBody_TextToImage(t *testing.T) {
	p := &StabilityProvider{}

	// Without an input image there must be no strength field either.
	body, contentType, err := p.BuildRequestBody("stable-image-ultra", &genai.Request{
		Op:     genai.OpGenerate,
		Prompt: "a red bicycle",
	})
	require.NoError(t, err)

	_, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)

	names := map[string]bool{}
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names[part.FormName()] = true
	}

	assert.True(t, names["prompt"])
	assert.False(t, names["image"])
	assert.False(t, names["strength"])
}

func TestStabilityProvider_ParseResponse(t *testing.T) {
	p := &StabilityProvider{}

	encoded := base64.StdEncoding.EncodeToString(pngBytes)
	responseBody := []byte(`{"image": "` + encoded + `", "finish_reason": "SUCCESS", "seed": 12345}`)

	resp, err := p.ParseResponse(genai.OpGenerate, responseBody, "stable-image-ultra")
	require.NoError(t, err)

	assert.Equal(t, pngBytes, resp.Image)
	assert.Equal(t, "stable-image-ultra", resp.Model)
	assert.Equal(t, "SUCCESS", resp.FinishReason)
}

func TestStabilityProvider_ParseResponse_Errors(t *testing.T) {
	p := &StabilityProvider{}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "content filtered",
			body:    `{"image": "aGk=", "finish_reason": "CONTENT_FILTERED"}`,
			wantErr: "filtered",
		},
		{
			name:    "no image",
			body:    `{"finish_reason": "SUCCESS"}`,
			wantErr: "no image",
		},
		{
			name:    "invalid base64",
			body:    `{"image": "!!!", "finish_reason": "SUCCESS"}`,
			wantErr: "decode stability image",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseResponse(genai.OpGenerate, []byte(tt.body), "stable-image-ultra")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
