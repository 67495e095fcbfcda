package models

import (
	"encoding/json"
	"testing"
)

// TestContentItemJSONThumbnail verifies thumbnail_url is serialized as null when absent
func TestContentItemJSONThumbnail(t *testing.T) {
	item := &ContentItem{
		ID:               "item-1",
		Title:            PlaceholderTitle,
		URL:              "https://example.com",
		Source:           SourceWeb,
		Tags:             []string{},
		KeyTakeaways:     []string{},
		ProcessingStatus: StatusPending,
	}

	jsonBytes, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("Failed to marshal item: %v", err)
	}

	var unmarshaled map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &unmarshaled); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	value, exists := unmarshaled["thumbnail_url"]
	if !exists {
		t.Fatal("thumbnail_url field is missing from JSON")
	}
	if value != nil {
		t.Errorf("Expected thumbnail_url to be null, got %v", value)
	}

	tags, ok := unmarshaled["tags"].([]interface{})
	if !ok {
		t.Fatalf("Expected tags to be an array, got %T", unmarshaled["tags"])
	}
	if len(tags) != 0 {
		t.Errorf("Expected empty tags, got %v", tags)
	}
}

func TestProcessRequestFieldNames(t *testing.T) {
	var req ProcessRequest
	body := `{"url":"https://youtu.be/abc123","userId":"user-1","contentId":"content-1"}`
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatalf("Failed to decode request: %v", err)
	}
	if req.URL != "https://youtu.be/abc123" || req.UserID != "user-1" || req.ContentID != "content-1" {
		t.Errorf("Unexpected request: %+v", req)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from ProcessingStatus
		to   ProcessingStatus
		want bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllowedPredecessors(t *testing.T) {
	from := AllowedPredecessors(StatusFailed)
	if len(from) != 2 || from[0] != StatusPending || from[1] != StatusProcessing {
		t.Errorf("AllowedPredecessors(failed) = %v", from)
	}

	if got := AllowedPredecessors(StatusPending); len(got) != 0 {
		t.Errorf("AllowedPredecessors(pending) = %v, want none", got)
	}
}

func TestParseSource(t *testing.T) {
	if src, ok := ParseSource(" YouTube "); !ok || src != SourceYouTube {
		t.Errorf("ParseSource(YouTube) = %q, %v", src, ok)
	}
	if _, ok := ParseSource("article"); ok {
		t.Error("Expected article to be rejected")
	}
}
