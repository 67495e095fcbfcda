package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/docutag/curator/llm"
)

// ModelCall is one request received by a FakeModel
type ModelCall struct {
	Path      string
	APIKey    string
	Prompt    string
	WebSearch bool
	JSON      bool
}

// Responder returns the HTTP status and candidate text for a call
type Responder func(call ModelCall) (status int, text string)

// Reply always answers with text
func Reply(text string) Responder {
	return func(ModelCall) (int, string) { return http.StatusOK, text }
}

// FakeModel is an httptest server speaking the generateContent wire format
type FakeModel struct {
	*httptest.Server

	mu      sync.Mutex
	calls   []ModelCall
	respond Responder
}

// NewFakeModel starts a fake model endpoint closed at the end of the test
func NewFakeModel(t testing.TB, respond Responder) *FakeModel {
	t.Helper()
	f := &FakeModel{respond: respond}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *FakeModel) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Contents []struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"contents"`
		Tools []struct {
			GoogleSearch *struct{} `json:"google_search"`
		} `json:"tools"`
		GenerationConfig struct {
			ResponseMIMEType string `json:"responseMimeType"`
		} `json:"generationConfig"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	call := ModelCall{
		Path:   r.URL.Path,
		APIKey: r.Header.Get("x-goog-api-key"),
		JSON:   req.GenerationConfig.ResponseMIMEType == "application/json",
	}
	var prompt []string
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			prompt = append(prompt, p.Text)
		}
	}
	call.Prompt = strings.Join(prompt, "\n")
	for _, tool := range req.Tools {
		if tool.GoogleSearch != nil {
			call.WebSearch = true
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	respond := f.respond
	f.mu.Unlock()

	status, text := respond(call)
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": status, "message": text},
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"candidates": []any{
			map[string]any{
				"content":      map[string]any{"parts": []any{map[string]any{"text": text}}},
				"finishReason": "STOP",
			},
		},
	})
}

// Calls returns the requests received so far
func (f *FakeModel) Calls() []ModelCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ModelCall(nil), f.calls...)
}

// SetResponder replaces the responder for later calls
func (f *FakeModel) SetResponder(respond Responder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = respond
}

// Client returns an llm.Client pointed at the fake endpoint
func (f *FakeModel) Client() *llm.Client {
	return llm.NewClient(llm.Config{APIKey: "test-key", Endpoint: f.URL, Model: "test-model"})
}
