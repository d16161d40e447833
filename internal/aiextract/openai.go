package aiextract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	openAIEndpoint = "https://api.openai.com/v1/chat/completions"
	openAIModel    = "gpt-4o-mini"
)

const openAIParseSystem = `從使用者輸入的文字中提取人物及其關係。你的任務是將這些資訊轉換成一個特定的 JSON 結構。
JSON 結構應包含兩個主要鍵：'characters' 和 'relationships'。
'characters' 應該是一個物件陣列，每個物件只包含一個 'name' 鍵，值為角色的名字。請確保列出所有在文字中提到的人物。
'relationships' 應該是一個物件陣列，每個物件包含 'source' (來源角色名字), 'target' (目標角色名字), 和 'label' (描述關係的文字，例如 "父親", "朋友")。

範例輸入: 'A是B的父親，C和B是朋友。'
範例輸出 JSON:
{"characters":[{"name":"A"},{"name":"B"},{"name":"C"}],"relationships":[{"source":"A","target":"B","label":"父親"},{"source":"C","target":"B","label":"朋友"}]}

請只回傳 JSON 物件，不要包含任何額外的文字、解釋或 markdown 語法。`

const openAITagsSystem = `回傳 JSON 物件 {"tags": [...]}。`

const openAISuggestSystem = `回傳 JSON 物件 {"existingTags": [...], "newTagSuggestions": [...]}。`

// OpenAI calls the chat completions endpoint in JSON mode.
type OpenAI struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

func NewOpenAI(apiKey string, client *http.Client) *OpenAI {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAI{apiKey: apiKey, endpoint: openAIEndpoint, model: openAIModel, client: client}
}

// WithEndpoint points the adapter at a compatible server.
func (o *OpenAI) WithEndpoint(endpoint string) *OpenAI {
	o.endpoint = endpoint
	return o
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAI) complete(ctx context.Context, messages []chatMessage, into any) error {
	if o.apiKey == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(chatRequest{
		Model:          o.model,
		Messages:       messages,
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0.2,
	})
	if err != nil {
		return fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	var decoded chatResponse
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decoded.Error != nil && decoded.Error.Code == "invalid_api_key" {
			return ErrInvalidKey
		}
		msg := ""
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return fmt.Errorf("%w: status %d %s", ErrUnavailable, resp.StatusCode, msg)
	}
	if len(decoded.Choices) == 0 {
		return ErrEmptyResponse
	}
	return decodeReply(decoded.Choices[0].Message.Content, into)
}

func (o *OpenAI) ParseText(ctx context.Context, text string) (ParsedData, error) {
	var out ParsedData
	err := o.complete(ctx, []chatMessage{
		{Role: "system", Content: openAIParseSystem},
		{Role: "user", Content: text},
	}, &out)
	if err != nil {
		return ParsedData{}, err
	}
	out.normalize()
	return out, nil
}

func (o *OpenAI) ExtractTags(ctx context.Context, text string) ([]string, error) {
	var out struct {
		Tags []string `json:"tags"`
	}
	err := o.complete(ctx, []chatMessage{
		{Role: "system", Content: openAITagsSystem},
		{Role: "user", Content: tagsPrompt + text},
	}, &out)
	if err != nil {
		return nil, err
	}
	return cleanLabels(out.Tags), nil
}

func (o *OpenAI) SuggestImageTags(ctx context.Context, img Image, taxonomy []TaxonomyEntry) (TagSuggestion, error) {
	dataURL := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
	var out TagSuggestion
	err := o.complete(ctx, []chatMessage{
		{Role: "system", Content: openAISuggestSystem},
		{Role: "user", Content: []contentPart{
			{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			{Type: "text", Text: imagePrompt(taxonomy)},
		}},
	}, &out)
	if err != nil {
		return TagSuggestion{}, err
	}
	out.normalize()
	return out, nil
}
