package dataset

import (
	"regexp"
	"strings"
)

var brokenPathPattern = regexp.MustCompile(`[()\s]`)

// RelationshipSignature is the content identity used to detect duplicate
// relationships carrying different ids.
func RelationshipSignature(r Relationship) string {
	return r.Source + "-" + r.Target + "-" + r.Label
}

// FullRelationshipSignature also distinguishes arrow style and description.
func FullRelationshipSignature(r Relationship) string {
	return r.Source + "→" + r.Target + "::" + r.Label + "::" + r.ArrowStyle + "::" + r.Description
}

// ImageSignature is the (characterId, imageDataUrl) content identity.
func ImageSignature(img CharacterImage) string {
	return img.CharacterID + "::" + img.ImageDataURL
}

// IsBrokenPath flags image references containing parentheses or whitespace,
// which mark a path mangled by an earlier copy step.
func IsBrokenPath(url string) bool {
	return brokenPathPattern.MatchString(url)
}

// IsEmbedded reports whether the reference is an inline data payload rather
// than a path.
func IsEmbedded(url string) bool {
	return strings.HasPrefix(url, "data:")
}
