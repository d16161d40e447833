package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DurableSink receives the reduced user payload.
type DurableSink interface {
	Save(ctx context.Context, payload UserPayload) error
}

type userDataMerger interface {
	Merge(ctx context.Context, fields map[string]json.RawMessage) ([]byte, error)
}

type historyRecorder interface {
	Commit(ctx context.Context, content []byte, message string) (string, error)
}

// StoreSink merges the payload straight into a user data store and, when a
// recorder is set, commits the resulting document to history.
type StoreSink struct {
	store   userDataMerger
	history historyRecorder
}

func NewStoreSink(store userDataMerger, history historyRecorder) *StoreSink {
	return &StoreSink{store: store, history: history}
}

func (s *StoreSink) Save(ctx context.Context, payload UserPayload) error {
	fields, err := payload.TopLevel()
	if err != nil {
		return err
	}
	merged, err := s.store.Merge(ctx, fields)
	if err != nil {
		return fmt.Errorf("merge user data: %w", err)
	}
	if s.history != nil {
		msg := fmt.Sprintf("Save user data (%d relationships, %d images)", len(payload.Relationships), len(payload.CharacterImages))
		if _, err := s.history.Commit(ctx, merged, msg); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
	}
	return nil
}

// HTTPSink POSTs the payload to a save-metadata endpoint.
type HTTPSink struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSink(endpoint string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSink{endpoint: endpoint, client: client}
}

func (s *HTTPSink) Save(ctx context.Context, payload UserPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal user payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post user payload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post user payload: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
