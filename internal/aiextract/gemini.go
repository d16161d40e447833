package aiextract

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

// Gemini calls the Gemini API with JSON response schemas.
type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: geminiModel}, nil
}

func stringArray(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: &genai.Schema{Type: genai.TypeString}}
}

var parseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"characters": {
			Type:        genai.TypeArray,
			Description: "所有獨立角色的列表。",
			Items: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: map[string]*genai.Schema{"name": {Type: genai.TypeString, Description: "角色的名字。"}},
				Required:   []string{"name"},
			},
		},
		"relationships": {
			Type:        genai.TypeArray,
			Description: "所有角色之間的關係列表。",
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"source": {Type: genai.TypeString, Description: "關係中的來源角色名字。"},
					"target": {Type: genai.TypeString, Description: "關係中的目標角色名字。"},
					"label":  {Type: genai.TypeString, Description: "描述關係的標籤 (例如 \"父親\", \"朋友\")"},
				},
				Required: []string{"source", "target", "label"},
			},
		},
	},
	Required: []string{"characters", "relationships"},
}

var tagsSchema = &genai.Schema{
	Type:       genai.TypeObject,
	Properties: map[string]*genai.Schema{"tags": stringArray("從文字中提取的標籤列表。")},
	Required:   []string{"tags"},
}

var suggestionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"existingTags":      stringArray("從現有標籤庫中找到的匹配標籤的標籤名稱 (label) 列表。"),
		"newTagSuggestions": stringArray("圖片中有，但現有標籤庫沒有的新標籤建議 (標籤名稱)。"),
	},
	Required: []string{"existingTags", "newTagSuggestions"},
}

func (g *Gemini) generate(ctx context.Context, parts []*genai.Part, schema *genai.Schema, into any) error {
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	})
	if err != nil {
		return classifyGeminiError(err)
	}
	return decodeReply(resp.Text(), into)
}

func classifyGeminiError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "API key not valid") || strings.Contains(msg, "API_KEY_INVALID") {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (g *Gemini) ParseText(ctx context.Context, text string) (ParsedData, error) {
	var out ParsedData
	if err := g.generate(ctx, []*genai.Part{genai.NewPartFromText(parsePrompt + text)}, parseSchema, &out); err != nil {
		return ParsedData{}, err
	}
	out.normalize()
	return out, nil
}

func (g *Gemini) ExtractTags(ctx context.Context, text string) ([]string, error) {
	var out struct {
		Tags []string `json:"tags"`
	}
	if err := g.generate(ctx, []*genai.Part{genai.NewPartFromText(tagsPrompt + text)}, tagsSchema, &out); err != nil {
		return nil, err
	}
	return cleanLabels(out.Tags), nil
}

func (g *Gemini) SuggestImageTags(ctx context.Context, img Image, taxonomy []TaxonomyEntry) (TagSuggestion, error) {
	parts := []*genai.Part{
		genai.NewPartFromBytes(img.Data, img.MIMEType),
		genai.NewPartFromText(imagePrompt(taxonomy)),
	}
	var out TagSuggestion
	if err := g.generate(ctx, parts, suggestionSchema, &out); err != nil {
		return TagSuggestion{}, err
	}
	out.normalize()
	return out, nil
}

// cleanLabels trims labels and drops empties and exact repeats.
func cleanLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
