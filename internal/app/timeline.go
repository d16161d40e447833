package app

import (
	"errors"
	"net/http"

	"charmap/api/internal/timeline"
)

func (s *Service) Timeline() timeline.Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Data()
}

// TimelineEvents filters the events, resolving character ids to names for
// the text query.
func (s *Service) TimelineEvents(f timeline.Filter) []timeline.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.Query != "" && f.CharacterNames == nil {
		f.CharacterNames = make(map[string]string, len(s.data.Characters))
		for _, c := range s.data.Characters {
			f.CharacterNames[c.ID] = c.Name
		}
	}
	return s.timeline.Events(f)
}

func (s *Service) SetGameStartYear(year int) (timeline.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.timeline.SetGameStartYear(year); err != nil {
		return timeline.Data{}, timelineError(err)
	}
	s.changedLocked()
	return s.timeline.Data(), nil
}

func (s *Service) SaveTimelineEvent(e timeline.Event) (timeline.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	saved, err := s.timeline.SaveEvent(e)
	if err != nil {
		return timeline.Event{}, timelineError(err)
	}
	s.changedLocked()
	return saved, nil
}

func (s *Service) DeleteTimelineEvent(id string) error {
	return s.timelineEdit(func(b *timeline.Book) error { return b.DeleteEvent(id) })
}

func (s *Service) AddTimelineTag(label, color string) (timeline.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.timeline.AddTag(label, color)
	if err != nil {
		return timeline.Tag{}, timelineError(err)
	}
	s.changedLocked()
	return tag, nil
}

func (s *Service) DeleteTimelineTag(id string) error {
	return s.timelineEdit(func(b *timeline.Book) error { return b.DeleteTag(id) })
}

func (s *Service) AddTimelineLocation(label, parentID, description string) (timeline.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, err := s.timeline.AddLocation(label, parentID, description)
	if err != nil {
		return timeline.Location{}, timelineError(err)
	}
	s.changedLocked()
	return loc, nil
}

func (s *Service) DeleteTimelineLocation(id string) error {
	return s.timelineEdit(func(b *timeline.Book) error { return b.DeleteLocation(id) })
}

func (s *Service) timelineEdit(edit func(*timeline.Book) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := edit(s.timeline); err != nil {
		return timelineError(err)
	}
	s.changedLocked()
	return nil
}

func timelineError(err error) error {
	switch {
	case errors.Is(err, timeline.ErrNotFound):
		return domainError(http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, timeline.ErrLocationInUse), errors.Is(err, timeline.ErrTagLabelExists):
		return conflict(err.Error(), nil)
	case errors.Is(err, timeline.ErrInvalid):
		return validationError(err.Error(), nil)
	default:
		return err
	}
}
