// Package dataset holds the character map data model shared by the merge
// engine, the mutation layer and the persistence adapters.
package dataset

const (
	ArrowStyleArrow = "arrow"
	ArrowStyleNone  = "none"

	SelectionSingle   = "single"
	SelectionMultiple = "multiple"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Profile struct {
	Appearance  string `json:"appearance,omitempty"`
	Personality string `json:"personality,omitempty"`
	Background  string `json:"background,omitempty"`
	Specialty   string `json:"specialty,omitempty"`
	Quote       string `json:"quote,omitempty"`
}

type Character struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Notes          string   `json:"notes"`
	TagIDs         []string `json:"tagIds"`
	Image          string   `json:"image,omitempty"`
	AvatarPosition *Point   `json:"avatarPosition,omitempty"`
	Profile        *Profile `json:"profile,omitempty"`
}

type Relationship struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Target      string `json:"target"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	ArrowStyle  string `json:"arrowStyle,omitempty"`
}

// Tag.Color is the parent category's color, stamped at read time.
type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
}

type TagCategory struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Color         string `json:"color"`
	Tags          []Tag  `json:"tags"`
	SelectionMode string `json:"selectionMode,omitempty"`
}

type CharacterImage struct {
	ID           string   `json:"id"`
	CharacterID  string   `json:"characterId"`
	ImageDataURL string   `json:"imageDataUrl"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	TagIDs       []string `json:"tagIds"`
	Notes        string   `json:"notes,omitempty"`
}

// HasAuxData reports whether the image carries user-entered data that makes
// it worth keeping over a same-URL duplicate.
func (img CharacterImage) HasAuxData() bool {
	return len(img.TagIDs) > 0 || img.Notes != ""
}

// Dataset is the reconciled in-memory world.
type Dataset struct {
	Characters      []Character      `json:"characters"`
	Relationships   []Relationship   `json:"relationships"`
	TagCategories   []TagCategory    `json:"tagCategories"`
	CharacterImages []CharacterImage `json:"characterImages"`
}

// CharacterOverride is the per-character entry of the user dataset.
type CharacterOverride struct {
	Image          string   `json:"image,omitempty"`
	AvatarPosition *Point   `json:"avatarPosition,omitempty"`
	TagIDs         []string `json:"tagIds,omitempty"`
}

// UserData is the durable user dataset.
type UserData struct {
	Characters             map[string]CharacterOverride `json:"characters,omitempty"`
	Relationships          []Relationship               `json:"relationships,omitempty"`
	CharacterImages        []CharacterImage             `json:"characterImages,omitempty"`
	DeletedRelationshipIDs []string                     `json:"deletedRelationshipIds,omitempty"`
	DeletedImageIDs        []string                     `json:"deletedImageIds,omitempty"`
}

// CacheData is the full snapshot kept in the cache port.
type CacheData struct {
	Dataset
	DeletedRelationshipIDs []string `json:"deletedRelationshipIds,omitempty"`
	DeletedImageIDs        []string `json:"deletedImageIds,omitempty"`
}

// Clone returns a deep copy so callers can build the next state without
// aliasing slices of the current one.
func (d Dataset) Clone() Dataset {
	out := Dataset{
		Characters:      make([]Character, len(d.Characters)),
		Relationships:   append([]Relationship(nil), d.Relationships...),
		TagCategories:   make([]TagCategory, len(d.TagCategories)),
		CharacterImages: make([]CharacterImage, len(d.CharacterImages)),
	}
	if out.Relationships == nil {
		out.Relationships = []Relationship{}
	}
	for i, c := range d.Characters {
		out.Characters[i] = c.clone()
	}
	for i, cat := range d.TagCategories {
		cat.Tags = append([]Tag{}, cat.Tags...)
		out.TagCategories[i] = cat
	}
	for i, img := range d.CharacterImages {
		img.TagIDs = cloneStrings(img.TagIDs)
		out.CharacterImages[i] = img
	}
	return out
}

func (c Character) clone() Character {
	c.TagIDs = cloneStrings(c.TagIDs)
	if c.AvatarPosition != nil {
		p := *c.AvatarPosition
		c.AvatarPosition = &p
	}
	if c.Profile != nil {
		p := *c.Profile
		c.Profile = &p
	}
	return c
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Empty returns a dataset with non-nil, empty collections.
func Empty() Dataset {
	return Dataset{
		Characters:      []Character{},
		Relationships:   []Relationship{},
		TagCategories:   []TagCategory{},
		CharacterImages: []CharacterImage{},
	}
}

// Normalize replaces nil collections and nil tag lists with empty ones so
// the JSON form is stable.
func (d *Dataset) Normalize() {
	if d.Characters == nil {
		d.Characters = []Character{}
	}
	if d.Relationships == nil {
		d.Relationships = []Relationship{}
	}
	if d.TagCategories == nil {
		d.TagCategories = []TagCategory{}
	}
	if d.CharacterImages == nil {
		d.CharacterImages = []CharacterImage{}
	}
	for i := range d.Characters {
		if d.Characters[i].TagIDs == nil {
			d.Characters[i].TagIDs = []string{}
		}
	}
	for i := range d.TagCategories {
		if d.TagCategories[i].Tags == nil {
			d.TagCategories[i].Tags = []Tag{}
		}
	}
	for i := range d.CharacterImages {
		if d.CharacterImages[i].TagIDs == nil {
			d.CharacterImages[i].TagIDs = []string{}
		}
	}
}

// WithoutTagColors returns categories with the read-time tag colors removed.
func WithoutTagColors(categories []TagCategory) []TagCategory {
	out := make([]TagCategory, len(categories))
	for i, cat := range categories {
		tags := make([]Tag, len(cat.Tags))
		for j, tag := range cat.Tags {
			tag.Color = ""
			tags[j] = tag
		}
		cat.Tags = tags
		out[i] = cat
	}
	return out
}

func (d Dataset) FindCharacter(id string) (int, bool) {
	for i, c := range d.Characters {
		if c.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (d Dataset) FindImage(id string) (int, bool) {
	for i, img := range d.CharacterImages {
		if img.ID == id {
			return i, true
		}
	}
	return -1, false
}

func (d Dataset) FindCategory(id string) (int, bool) {
	for i, cat := range d.TagCategories {
		if cat.ID == id {
			return i, true
		}
	}
	return -1, false
}

// TagLabels maps tag ids to labels across all categories.
func (d Dataset) TagLabels() map[string]string {
	out := make(map[string]string)
	for _, cat := range d.TagCategories {
		for _, tag := range cat.Tags {
			out[tag.ID] = tag.Label
		}
	}
	return out
}
