// Package timeline keeps the story timeline: events on a relative year axis,
// their tags and a tree of locations.
package timeline

import (
	"time"
)

const DefaultGameStartYear = 200

type Size string

const (
	SizeLarge  Size = "large"
	SizeMedium Size = "medium"
	SizeSmall  Size = "small"
)

func (s Size) Valid() bool {
	switch s {
	case SizeLarge, SizeMedium, SizeSmall:
		return true
	}
	return false
}

type Event struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	StartYear       int      `json:"startYear"`
	EndYear         *int     `json:"endYear,omitempty"`
	IsContinuous    bool     `json:"isContinuous"`
	Size            Size     `json:"size"`
	IsMainStory     bool     `json:"isMainStory"`
	ParentEventIDs  []string `json:"parentEventIds"`
	RelatedEventIDs []string `json:"relatedEventIds"`
	CharacterIDs    []string `json:"characterIds"`
	NPCNames        []string `json:"npcNames"`
	TagIDs          []string `json:"tagIds"`
	PublicInfo      string   `json:"publicInfo"`
	DeepInfo        string   `json:"deepInfo"`
	Notes           string   `json:"notes"`
	Location        string   `json:"location"`
	CreatedAt       int64    `json:"createdAt"`
	UpdatedAt       int64    `json:"updatedAt"`
}

type Tag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color"`
}

type Location struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	ParentID    string `json:"parentId,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// Data is the persisted timeline document. Locations is the flat label list
// kept for older documents; LocationNodes is the tree.
type Data struct {
	GameStartYear int        `json:"gameStartYear"`
	Events        []Event    `json:"events"`
	Locations     []string   `json:"locations"`
	LocationNodes []Location `json:"locationNodes"`
	Tags          []Tag      `json:"tags"`
}

func NewData() Data {
	return Data{
		GameStartYear: DefaultGameStartYear,
		Events:        []Event{},
		Locations:     []string{},
		LocationNodes: []Location{},
		Tags:          []Tag{},
	}
}

// Clone returns a deep copy.
func (d Data) Clone() Data {
	out := Data{
		GameStartYear: d.GameStartYear,
		Events:        make([]Event, len(d.Events)),
		Locations:     append([]string{}, d.Locations...),
		LocationNodes: append([]Location{}, d.LocationNodes...),
		Tags:          append([]Tag{}, d.Tags...),
	}
	for i, e := range d.Events {
		out.Events[i] = e.clone()
	}
	return out
}

func (e Event) clone() Event {
	if e.EndYear != nil {
		y := *e.EndYear
		e.EndYear = &y
	}
	e.ParentEventIDs = append([]string{}, e.ParentEventIDs...)
	e.RelatedEventIDs = append([]string{}, e.RelatedEventIDs...)
	e.CharacterIDs = append([]string{}, e.CharacterIDs...)
	e.NPCNames = append([]string{}, e.NPCNames...)
	e.TagIDs = append([]string{}, e.TagIDs...)
	return e
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
