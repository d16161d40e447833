package app

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"charmap/api/internal/dataset"
	"charmap/api/internal/images"
	"charmap/api/internal/merge"
	"charmap/api/internal/util"
)

// ImageUpload carries a new gallery image as a data URL or bare base64.
type ImageUpload struct {
	Data  string   `json:"imageBase64"`
	Notes string   `json:"notes"`
	Tags  []string `json:"tagIds"`
}

type AddImageResult struct {
	Image dataset.CharacterImage `json:"image"`
	// OfferAsAvatar is set when the character had no avatar yet.
	OfferAsAvatar bool `json:"offerAsAvatar"`
	// Embedded is set when storage failed and the image went in inline.
	Embedded bool `json:"embedded"`
}

// AddImage normalizes the payload, stores it and appends a gallery record.
// A storage failure is not fatal; the JPEG is embedded as a data URL.
func (s *Service) AddImage(ctx context.Context, characterID string, up ImageUpload) (AddImageResult, error) {
	s.mu.Lock()
	idx, ok := s.data.FindCharacter(characterID)
	var character dataset.Character
	if ok {
		character = s.data.Characters[idx]
	}
	s.mu.Unlock()
	if !ok {
		return AddImageResult{}, notFound("Character", characterID)
	}

	raw, err := images.DecodeDataURL(up.Data)
	if err != nil {
		return AddImageResult{}, validationError("Image payload could not be decoded", nil)
	}
	normalized, err := images.Normalize(raw, images.MaxDimension)
	if err != nil {
		return AddImageResult{}, validationError("Image payload could not be decoded", nil)
	}

	img := dataset.CharacterImage{
		ID:          util.NewID(),
		CharacterID: characterID,
		TagIDs:      append([]string{}, up.Tags...),
		Notes:       up.Notes,
	}
	result := AddImageResult{}
	stored, err := s.storeImage(ctx, character.Name, normalized)
	if err != nil {
		s.logger.Warn("image upload failed, embedding inline", zap.String("character_id", characterID), zap.Error(err))
		img.ImageDataURL = images.JPEGDataURL(normalized)
		result.Embedded = true
	} else {
		img.ImageDataURL = stored.URL
		img.ThumbnailURL = stored.ThumbnailURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok = s.data.FindCharacter(characterID)
	if !ok {
		return AddImageResult{}, notFound("Character", characterID)
	}
	next := s.data.Clone()
	next.CharacterImages = append(next.CharacterImages, img)
	s.commitLocked(next)

	result.Image = img
	result.OfferAsAvatar = next.Characters[idx].Image == ""
	return result, nil
}

func (s *Service) storeImage(ctx context.Context, characterName string, data []byte) (images.Stored, error) {
	if s.images == nil {
		return images.Stored{}, errors.New("no image store configured")
	}
	return s.images.Put(ctx, images.Upload{
		CharacterName: characterName,
		FileName:      util.NewID() + ".jpg",
		Data:          data,
	})
}

// UploadRequest is the raw image ingestion body.
type UploadRequest struct {
	CharacterName string `json:"characterName"`
	FileName      string `json:"fileName"`
	ImageBase64   string `json:"imageBase64"`
}

// UploadImage stores the bytes as given, without touching the dataset.
func (s *Service) UploadImage(ctx context.Context, req UploadRequest) (images.Stored, error) {
	if strings.TrimSpace(req.CharacterName) == "" || strings.TrimSpace(req.FileName) == "" || req.ImageBase64 == "" {
		return images.Stored{}, validationError("Missing required fields", nil)
	}
	if s.images == nil {
		return images.Stored{}, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "No image store configured", nil)
	}
	data, err := images.DecodeDataURL(req.ImageBase64)
	if err != nil {
		return images.Stored{}, validationError("Image payload could not be decoded", nil)
	}
	stored, err := s.images.Put(ctx, images.Upload{CharacterName: req.CharacterName, FileName: req.FileName, Data: data})
	if errors.Is(err, images.ErrInvalidUpload) {
		return images.Stored{}, validationError(err.Error(), nil)
	}
	return stored, err
}

// UpdateImage edits the tags and notes of a gallery image.
func (s *Service) UpdateImage(img dataset.CharacterImage) (dataset.CharacterImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindImage(img.ID)
	if !ok {
		return dataset.CharacterImage{}, notFound("Image", img.ID)
	}
	next := s.data.Clone()
	current := next.CharacterImages[idx]
	current.TagIDs = append([]string{}, img.TagIDs...)
	current.Notes = img.Notes
	next.CharacterImages[idx] = current
	s.commitLocked(next)
	return current, nil
}

// DeleteImage ledgers the image and clears the owner's avatar when it
// points at the same URL.
func (s *Service) DeleteImage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindImage(id)
	if !ok {
		return notFound("Image", id)
	}
	next := s.data.Clone()
	removed := next.CharacterImages[idx]
	next.CharacterImages = append(next.CharacterImages[:idx], next.CharacterImages[idx+1:]...)
	if ci, ok := next.FindCharacter(removed.CharacterID); ok && next.Characters[ci].Image == removed.ImageDataURL {
		next.Characters[ci].Image = ""
	}
	s.ledger.MarkImageDeleted(id)
	s.commitLocked(next)
	return nil
}

// AvatarCrop selects the square to cut from either an inline Source or a
// gallery image.
type AvatarCrop struct {
	ImageID string `json:"imageId"`
	Source  string `json:"source"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Size    int    `json:"size"`
}

// SetAvatar crops a 512x512 JPEG and stores it inline as the character's
// avatar. Gallery records are not touched.
func (s *Service) SetAvatar(ctx context.Context, characterID string, crop AvatarCrop) (dataset.Character, error) {
	s.mu.Lock()
	_, ok := s.data.FindCharacter(characterID)
	source := crop.Source
	if ok && crop.ImageID != "" {
		ii, found := s.data.FindImage(crop.ImageID)
		if !found {
			s.mu.Unlock()
			return dataset.Character{}, notFound("Image", crop.ImageID)
		}
		source = s.data.CharacterImages[ii].ImageDataURL
	}
	s.mu.Unlock()
	if !ok {
		return dataset.Character{}, notFound("Character", characterID)
	}
	if source == "" {
		return dataset.Character{}, validationError("An image source is required", nil)
	}

	raw, err := s.readImage(ctx, source)
	if err != nil {
		return dataset.Character{}, err
	}
	cropped, err := images.Crop(raw, crop.X, crop.Y, crop.Size, images.AvatarSize)
	if err != nil {
		return dataset.Character{}, validationError("Image could not be cropped", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.data.FindCharacter(characterID)
	if !ok {
		return dataset.Character{}, notFound("Character", characterID)
	}
	next := s.data.Clone()
	next.Characters[idx].Image = images.JPEGDataURL(cropped)
	s.commitLocked(next)
	return next.Characters[idx], nil
}

func (s *Service) readImage(ctx context.Context, source string) ([]byte, error) {
	if dataset.IsEmbedded(source) {
		raw, err := images.DecodeDataURL(source)
		if err != nil {
			return nil, validationError("Image payload could not be decoded", nil)
		}
		return raw, nil
	}
	if s.images == nil {
		return nil, validationError("Image source is not readable", map[string]any{"source": source})
	}
	raw, err := s.images.Read(ctx, source)
	if err != nil {
		if errors.Is(err, images.ErrForeignURL) || errors.Is(err, images.ErrInvalidUpload) {
			return nil, validationError("Image source is not readable", map[string]any{"source": source})
		}
		return nil, err
	}
	return raw, nil
}

// ConsolidateResult reports a write-time URL dedup.
type ConsolidateResult struct {
	Removed []string `json:"removedIds"`
	Kept    int      `json:"kept"`
}

// ConsolidateImages keeps one record per URL: the load-time winner, with the
// tag ids of all duplicates and their distinct notes joined. Dropped ids are
// ledgered so they cannot come back on reload.
func (s *Service) ConsolidateImages() ConsolidateResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	winners := merge.DedupeByURL(s.data.CharacterImages)
	byURL := make(map[string]int, len(winners))
	for i, w := range winners {
		byURL[w.ImageDataURL] = i
		winners[i].TagIDs = append([]string{}, w.TagIDs...)
	}

	removed := []string{}
	for _, img := range s.data.CharacterImages {
		wi := byURL[img.ImageDataURL]
		w := &winners[wi]
		if w.ID == img.ID {
			continue
		}
		removed = append(removed, img.ID)
		for _, tag := range img.TagIDs {
			if !slices.Contains(w.TagIDs, tag) {
				w.TagIDs = append(w.TagIDs, tag)
			}
		}
		if note := strings.TrimSpace(img.Notes); note != "" && !strings.Contains(w.Notes, note) {
			if w.Notes == "" {
				w.Notes = note
			} else {
				w.Notes += "\n" + note
			}
		}
	}

	if len(removed) == 0 {
		return ConsolidateResult{Removed: removed, Kept: len(winners)}
	}
	s.ledger.MarkImageDeleted(removed...)
	next := s.data.Clone()
	next.CharacterImages = winners
	s.commitLocked(next)
	return ConsolidateResult{Removed: removed, Kept: len(winners)}
}
