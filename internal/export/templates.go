package export

import (
	"bytes"
	"embed"
	"html/template"
	"sort"
	"strings"
	"time"

	"charmap/api/internal/dataset"
)

//go:embed templates/*.html
var templateFS embed.FS

var rosterTemplate = template.Must(template.New("roster.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"safeURL": func(s string) template.URL {
		return template.URL(s)
	},
}).ParseFS(templateFS, "templates/roster.html"))

// RosterData holds data for roster rendering.
type RosterData struct {
	Title       string
	GeneratedAt time.Time
	Characters  []RosterCharacter
}

type RosterCharacter struct {
	Name          string
	Notes         string
	Image         string
	Quote         string
	Tags          []RosterTag
	Relationships []RosterLink
}

type RosterTag struct {
	Label string
	Color string
}

// RosterLink is one relationship seen from the character it is listed
// under. Outgoing is false when the character is the target.
type RosterLink struct {
	Label    string
	Other    string
	Outgoing bool
	Mutual   bool
}

// BuildRoster lays out characters sorted by name with their tags and
// relationships. Relationships to unknown characters are dropped.
func BuildRoster(title string, d dataset.Dataset, now time.Time) RosterData {
	names := make(map[string]string, len(d.Characters))
	for _, c := range d.Characters {
		names[c.ID] = c.Name
	}
	type tagInfo struct{ label, color string }
	tags := make(map[string]tagInfo)
	for _, cat := range d.TagCategories {
		for _, t := range cat.Tags {
			tags[t.ID] = tagInfo{label: t.Label, color: cat.Color}
		}
	}

	out := RosterData{Title: title, GeneratedAt: now, Characters: make([]RosterCharacter, 0, len(d.Characters))}
	for _, c := range d.Characters {
		rc := RosterCharacter{Name: c.Name, Notes: c.Notes, Image: rosterImage(c.Image)}
		if c.Profile != nil {
			rc.Quote = c.Profile.Quote
		}
		for _, id := range c.TagIDs {
			if t, ok := tags[id]; ok {
				rc.Tags = append(rc.Tags, RosterTag{Label: t.label, Color: t.color})
			}
		}
		for _, r := range d.Relationships {
			mutual := r.ArrowStyle == dataset.ArrowStyleNone
			switch {
			case r.Source == c.ID:
				if other, ok := names[r.Target]; ok {
					rc.Relationships = append(rc.Relationships, RosterLink{Label: r.Label, Other: other, Outgoing: true, Mutual: mutual})
				}
			case r.Target == c.ID && !mutual:
				if other, ok := names[r.Source]; ok {
					rc.Relationships = append(rc.Relationships, RosterLink{Label: r.Label, Other: other})
				}
			}
		}
		out.Characters = append(out.Characters, rc)
	}
	sort.SliceStable(out.Characters, func(i, j int) bool {
		return out.Characters[i].Name < out.Characters[j].Name
	})
	return out
}

// rosterImage keeps only images Chrome can load from a data: page.
func rosterImage(src string) string {
	if strings.HasPrefix(src, "data:image/") || strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return ""
}

// RenderRosterHTML renders the roster template.
func RenderRosterHTML(data RosterData) (string, error) {
	var buf bytes.Buffer
	if err := rosterTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
