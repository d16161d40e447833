package timeline

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"time"

	"charmap/api/internal/util"
)

var (
	ErrNotFound       = errors.New("timeline: not found")
	ErrInvalid        = errors.New("timeline: invalid")
	ErrLocationInUse  = errors.New("timeline: location in use")
	ErrTagLabelExists = errors.New("timeline: tag label exists")
)

// Book applies edits to a timeline document. It is not safe for concurrent
// use; the owning service serializes access.
type Book struct {
	data Data
	now  func() time.Time
}

func NewBook(data Data) *Book {
	if data.GameStartYear == 0 {
		data.GameStartYear = DefaultGameStartYear
	}
	if data.Events == nil {
		data.Events = []Event{}
	}
	if data.Locations == nil {
		data.Locations = []string{}
	}
	if data.LocationNodes == nil {
		data.LocationNodes = []Location{}
	}
	if data.Tags == nil {
		data.Tags = []Tag{}
	}
	return &Book{data: data, now: time.Now}
}

// Data returns a copy of the current document.
func (b *Book) Data() Data {
	return b.data.Clone()
}

// Replace swaps the document wholesale.
func (b *Book) Replace(data Data) {
	*b = *NewBook(data.Clone())
}

func (b *Book) SetGameStartYear(year int) error {
	if year < 0 {
		return fmt.Errorf("%w: game start year must not be negative", ErrInvalid)
	}
	b.data.GameStartYear = year
	return nil
}

// SaveEvent inserts a new event (empty id) or replaces an existing one. The
// event's location is registered in both location lists.
func (b *Book) SaveEvent(e Event) (Event, error) {
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return Event{}, fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if e.Size == "" {
		e.Size = SizeMedium
	}
	if !e.Size.Valid() {
		return Event{}, fmt.Errorf("%w: unknown size %q", ErrInvalid, e.Size)
	}
	if e.EndYear != nil && *e.EndYear < e.StartYear {
		return Event{}, fmt.Errorf("%w: end year before start year", ErrInvalid)
	}
	e = e.clone()
	e.Location = strings.TrimSpace(e.Location)
	now := millis(b.now())

	idx := b.eventIndex(e.ID)
	switch {
	case e.ID == "":
		e.ID = util.NewID()
		e.CreatedAt = now
		e.UpdatedAt = now
		b.data.Events = append(b.data.Events, e)
	case idx < 0:
		return Event{}, ErrNotFound
	default:
		e.CreatedAt = b.data.Events[idx].CreatedAt
		e.UpdatedAt = now
		b.data.Events[idx] = e
	}

	if e.Location != "" {
		b.registerLocation(e.Location)
	}
	return e.clone(), nil
}

// DeleteEvent removes the event and any parent/related references to it.
func (b *Book) DeleteEvent(id string) error {
	idx := b.eventIndex(id)
	if idx < 0 {
		return ErrNotFound
	}
	b.data.Events = append(b.data.Events[:idx], b.data.Events[idx+1:]...)
	for i := range b.data.Events {
		b.data.Events[i].ParentEventIDs = without(b.data.Events[i].ParentEventIDs, id)
		b.data.Events[i].RelatedEventIDs = without(b.data.Events[i].RelatedEventIDs, id)
	}
	return nil
}

func (b *Book) AddTag(label, color string) (Tag, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Tag{}, fmt.Errorf("%w: tag label is required", ErrInvalid)
	}
	for _, t := range b.data.Tags {
		if t.Label == label {
			return Tag{}, ErrTagLabelExists
		}
	}
	tag := Tag{ID: util.NewID(), Label: label, Color: color}
	b.data.Tags = append(b.data.Tags, tag)
	return tag, nil
}

// DeleteTag removes the tag and strips it from every event.
func (b *Book) DeleteTag(id string) error {
	found := false
	tags := b.data.Tags[:0]
	for _, t := range b.data.Tags {
		if t.ID == id {
			found = true
			continue
		}
		tags = append(tags, t)
	}
	if !found {
		return ErrNotFound
	}
	b.data.Tags = tags
	for i := range b.data.Events {
		b.data.Events[i].TagIDs = without(b.data.Events[i].TagIDs, id)
	}
	return nil
}

func (b *Book) AddLocation(label, parentID, description string) (Location, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return Location{}, fmt.Errorf("%w: location label is required", ErrInvalid)
	}
	if parentID != "" && b.locationIndex(parentID) < 0 {
		return Location{}, fmt.Errorf("%w: parent location %s", ErrNotFound, parentID)
	}
	now := millis(b.now())
	loc := Location{ID: util.NewID(), Label: label, ParentID: parentID, Description: description, CreatedAt: now, UpdatedAt: now}
	b.data.LocationNodes = append(b.data.LocationNodes, loc)
	b.addLocationLabel(label)
	return loc, nil
}

// DeleteLocation refuses while an event still uses the location's label.
// Children move up to the deleted node's parent.
func (b *Book) DeleteLocation(id string) error {
	idx := b.locationIndex(id)
	if idx < 0 {
		return ErrNotFound
	}
	target := b.data.LocationNodes[idx]
	used := 0
	for _, e := range b.data.Events {
		if e.Location == target.Label {
			used++
		}
	}
	if used > 0 {
		return fmt.Errorf("%w: %d events use %q", ErrLocationInUse, used, target.Label)
	}
	b.data.LocationNodes = append(b.data.LocationNodes[:idx], b.data.LocationNodes[idx+1:]...)
	for i := range b.data.LocationNodes {
		if b.data.LocationNodes[i].ParentID == id {
			b.data.LocationNodes[i].ParentID = target.ParentID
		}
	}
	b.data.Locations = without(b.data.Locations, target.Label)
	return nil
}

// Filter narrows the events; zero-valued fields do not filter.
type Filter struct {
	MinYear      *int
	MaxYear      *int
	Sizes        []Size
	CharacterIDs []string
	Locations    []string
	TagIDs       []string
	// Query is matched keyword by keyword, case-insensitively, against the
	// event text and the names resolved through CharacterNames.
	Query          string
	CharacterNames map[string]string
}

// Events returns the matching events sorted by start year.
func (b *Book) Events(f Filter) []Event {
	keywords := strings.Fields(strings.ToLower(f.Query))
	axisMax := b.axisMax()

	out := make([]Event, 0, len(b.data.Events))
	for _, e := range b.data.Events {
		if len(keywords) > 0 && !matchesKeywords(e, keywords, f.CharacterNames) {
			continue
		}
		if f.MinYear != nil || f.MaxYear != nil {
			end := e.StartYear
			if e.IsContinuous {
				end = axisMax
			} else if e.EndYear != nil {
				end = *e.EndYear
			}
			if f.MaxYear != nil && e.StartYear > *f.MaxYear {
				continue
			}
			if f.MinYear != nil && end < *f.MinYear {
				continue
			}
		}
		if len(f.Sizes) > 0 && !slices.Contains(f.Sizes, e.Size) {
			continue
		}
		if len(f.CharacterIDs) > 0 && !overlaps(e.CharacterIDs, f.CharacterIDs) {
			continue
		}
		if len(f.Locations) > 0 && !slices.Contains(f.Locations, e.Location) {
			continue
		}
		if len(f.TagIDs) > 0 && !overlaps(e.TagIDs, f.TagIDs) {
			continue
		}
		out = append(out, e.clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartYear < out[j].StartYear })
	return out
}

// axisMax is the right edge of the displayed axis: the latest year plus
// max(5, 15% of the span), and at least ten years past the earliest.
func (b *Book) axisMax() int {
	if len(b.data.Events) == 0 {
		return 10
	}
	minY, maxY := b.data.Events[0].StartYear, b.data.Events[0].StartYear
	for _, e := range b.data.Events {
		years := []int{e.StartYear}
		if e.EndYear != nil {
			years = append(years, *e.EndYear)
		}
		for _, y := range years {
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	padding := float64(maxY-minY) * 0.15
	if padding < 5 {
		padding = 5
	}
	edge := float64(maxY) + padding
	if floor := float64(minY + 10); edge < floor {
		edge = floor
	}
	return int(math.Ceil(edge))
}

func (b *Book) registerLocation(label string) {
	b.addLocationLabel(label)
	for _, n := range b.data.LocationNodes {
		if strings.TrimSpace(n.Label) == label {
			return
		}
	}
	now := millis(b.now())
	b.data.LocationNodes = append(b.data.LocationNodes, Location{ID: util.NewID(), Label: label, CreatedAt: now, UpdatedAt: now})
}

func (b *Book) addLocationLabel(label string) {
	if !slices.Contains(b.data.Locations, label) {
		b.data.Locations = append(b.data.Locations, label)
	}
}

func (b *Book) eventIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range b.data.Events {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (b *Book) locationIndex(id string) int {
	for i, n := range b.data.LocationNodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func matchesKeywords(e Event, keywords []string, names map[string]string) bool {
	parts := []string{e.Title, e.PublicInfo, e.DeepInfo, e.Notes, e.Location}
	parts = append(parts, e.NPCNames...)
	for _, id := range e.CharacterIDs {
		if name, ok := names[id]; ok {
			parts = append(parts, name)
		}
	}
	text := strings.ToLower(strings.Join(parts, " "))
	for _, k := range keywords {
		if !strings.Contains(text, k) {
			return false
		}
	}
	return true
}

func without(list []string, id string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, v := range a {
		if slices.Contains(b, v) {
			return true
		}
	}
	return false
}
