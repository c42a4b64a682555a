// internal/llm/providers/openai/openai.go
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/Corphon/HoverLens/internal/errors"
	"github.com/Corphon/HoverLens/internal/llm"
)

// ProviderName 注册名
const ProviderName = "openai"

func init() {
	llm.Register(ProviderName, func() llm.Provider {
		return &Provider{
			recommendedModels: []string{
				"gpt-4-vision-preview",
				"gpt-4o",
				"gpt-4o-mini",
				"claude-3-5-sonnet-20241022",
				"gemini-1.5-pro",
			},
			baseURL: llm.DefaultBaseURL,
		}
	})
}

// Provider 兼容 OpenAI chat completions 协议的视觉模型
type Provider struct {
	apiKey            string
	baseURL           string
	endpoint          string
	client            *http.Client
	defaultModel      string
	recommendedModels []string
}

// Initialize 读取 api_key / base_url / default_model / timeout
func (p *Provider) Initialize(config map[string]string) error {
	apiKey := config["api_key"]
	if apiKey == "" {
		return apperrors.NewConfigurationError(apperrors.MsgMissingAPIKey)
	}
	p.apiKey = apiKey

	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = baseURL
	}
	p.endpoint = llm.BuildChatEndpoint(p.baseURL)

	p.defaultModel = config["default_model"]
	if p.defaultModel == "" {
		p.defaultModel = "gpt-4-vision-preview"
	}

	// 分析没有超时以外的取消手段，这里只兜底
	timeout := 5 * time.Minute
	if raw := config["timeout"]; raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			timeout = d
		}
	}
	p.client = &http.Client{Timeout: timeout}

	return nil
}

func (p *Provider) GetName() string {
	return "OpenAI-Compatible"
}

func (p *Provider) GetSupportedModels() []string {
	return p.recommendedModels
}

// Endpoint 规范化后的请求地址
func (p *Provider) Endpoint() string {
	return p.endpoint
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageRef `json:"image_url,omitempty"`
}

type ImageRef struct {
	URL string `json:"url"`
}

type ChatMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type errorBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// BuildRequestBody 构造请求体
func BuildRequestBody(model, prompt, imageURL string) ChatRequest {
	return ChatRequest{
		Model: model,
		Messages: []ChatMessage{
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: prompt},
					{Type: "image_url", ImageURL: &ImageRef{URL: imageURL}},
				},
			},
		},
	}
}

// AnalyzeImage 发起一次请求，不重试
func (p *Provider) AnalyzeImage(ctx context.Context, req llm.VisionRequest) (*llm.VisionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	jsonData, err := json.Marshal(BuildRequestBody(model, req.PromptText, req.ImageURL))
	if err != nil {
		return nil, apperrors.NewProcessingError("序列化请求失败", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, apperrors.NewNetworkError("创建请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.NewNetworkError("API 请求发送失败", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, apperrors.NewNetworkError("读取 API 响应失败", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, apperrors.NewAPIError(httpResp.StatusCode, extractErrorMessage(body))
	}

	var response chatResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, apperrors.NewMalformedResponseError(err)
	}

	if len(response.Choices) == 0 {
		return nil, apperrors.NewMalformedResponseError(fmt.Errorf("choices 为空"))
	}
	first := response.Choices[0]
	if first.Message == nil || first.Message.Content == nil {
		return nil, apperrors.NewMalformedResponseError(fmt.Errorf("choices[0].message.content 缺失"))
	}

	modelName := response.Model
	if modelName == "" {
		modelName = model
	}

	return &llm.VisionResponse{
		Content:      *first.Message.Content,
		FinishReason: first.FinishReason,
		ModelName:    modelName,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		TokensUsed:   response.Usage.TotalTokens,
		ProviderName: p.GetName(),
	}, nil
}

// extractErrorMessage 尽力从错误响应中取出 error.message
func extractErrorMessage(body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Error == nil {
		return ""
	}
	return parsed.Error.Message
}
