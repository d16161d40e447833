// Package aiextract talks to hosted language models that turn free text into
// characters and relationships and suggest tags for images.
package aiextract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConfigured = errors.New("aiextract: no AI provider configured")
	ErrInvalidKey    = errors.New("aiextract: API key rejected")
	ErrUnavailable   = errors.New("aiextract: AI service request failed")
	ErrEmptyResponse = errors.New("aiextract: empty response")
)

type ParsedCharacter struct {
	Name string `json:"name"`
}

type ParsedRelationship struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// ParsedData is what text extraction returns, keyed by character name.
type ParsedData struct {
	Characters    []ParsedCharacter    `json:"characters"`
	Relationships []ParsedRelationship `json:"relationships"`
}

type TagSuggestion struct {
	ExistingTags      []string `json:"existingTags"`
	NewTagSuggestions []string `json:"newTagSuggestions"`
}

// TaxonomyEntry is one category of the existing tag library as shown to the
// model.
type TaxonomyEntry struct {
	Category string   `json:"category"`
	Tags     []string `json:"tags"`
}

// Image is an inline image payload.
type Image struct {
	MIMEType string
	Data     []byte
}

type Extractor interface {
	ParseText(ctx context.Context, text string) (ParsedData, error)
	SuggestImageTags(ctx context.Context, img Image, taxonomy []TaxonomyEntry) (TagSuggestion, error)
	ExtractTags(ctx context.Context, text string) ([]string, error)
}

// Options selects and configures a provider. Provider is "gemini" or
// "openai"; empty picks whichever key is present, Gemini first.
type Options struct {
	Provider     string
	GeminiAPIKey string
	OpenAIAPIKey string
}

// New returns the configured provider, or Disabled when no key is set.
func New(ctx context.Context, opts Options) (Extractor, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	switch {
	case provider == "openai" || (provider == "" && opts.GeminiAPIKey == "" && opts.OpenAIAPIKey != ""):
		if opts.OpenAIAPIKey == "" {
			return Disabled{}, nil
		}
		return NewOpenAI(opts.OpenAIAPIKey, nil), nil
	case provider == "gemini" || provider == "":
		if opts.GeminiAPIKey == "" {
			return Disabled{}, nil
		}
		return NewGemini(ctx, opts.GeminiAPIKey)
	default:
		return nil, fmt.Errorf("aiextract: unknown provider %q", opts.Provider)
	}
}

// Disabled rejects every call with ErrNotConfigured.
type Disabled struct{}

func (Disabled) ParseText(context.Context, string) (ParsedData, error) {
	return ParsedData{}, ErrNotConfigured
}

func (Disabled) SuggestImageTags(context.Context, Image, []TaxonomyEntry) (TagSuggestion, error) {
	return TagSuggestion{}, ErrNotConfigured
}

func (Disabled) ExtractTags(context.Context, string) ([]string, error) {
	return nil, ErrNotConfigured
}

// stripFence removes a ```json ... ``` wrapper some models add.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func decodeReply(text string, into any) error {
	cleaned := stripFence(text)
	if cleaned == "" {
		return ErrEmptyResponse
	}
	if err := json.Unmarshal([]byte(cleaned), into); err != nil {
		return fmt.Errorf("%w: decode model reply: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *ParsedData) normalize() {
	if p.Characters == nil {
		p.Characters = []ParsedCharacter{}
	}
	if p.Relationships == nil {
		p.Relationships = []ParsedRelationship{}
	}
}

func (s *TagSuggestion) normalize() {
	if s.ExistingTags == nil {
		s.ExistingTags = []string{}
	}
	if s.NewTagSuggestions == nil {
		s.NewTagSuggestions = []string{}
	}
}

func taxonomyJSON(taxonomy []TaxonomyEntry) string {
	if taxonomy == nil {
		taxonomy = []TaxonomyEntry{}
	}
	raw, err := json.Marshal(taxonomy)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

const (
	parsePrompt = "從以下文字中提取人物及其關係。人物名稱應唯一。關係應包含來源、目標和關係標籤。例如，'A是B的父親' 應該解析為 A -> B，標籤為 '父親'。\n\n輸入文字：\n"

	tagsPrompt = "從以下文字中提取關鍵字作為標籤 (tag)。每個標籤都必須是繁體中文，且應該是簡短的名詞或形容詞。請只回傳標籤本身，不要包含編號或項目符號。\n\n輸入文字：\n"

	imagePromptHead = "分析這張圖片的視覺特徵 (例如：外貌、配件、物品、顏色)。根據這些特徵，建議相關的標籤。\n所有建議的標籤都必須是繁體中文。\n這是一個現有的標籤庫，請優先使用這裡面的標籤：\n"

	imagePromptTail = "\n\n如果圖片中有標籤庫裡沒有的顯著特徵，請將它們作為新標籤建議。\n你的回覆必須是 JSON 格式。"
)

func imagePrompt(taxonomy []TaxonomyEntry) string {
	return imagePromptHead + taxonomyJSON(taxonomy) + imagePromptTail
}
