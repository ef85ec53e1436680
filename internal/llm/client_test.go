// ABOUTME: Tests for the embedding and VLM client against fake endpoints
// ABOUTME: Verifies retries, error wrapping, and payload shape
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/models"
)

func testConfig(embedURL, vlmURL string) *config.Config {
	return &config.Config{
		OpenAIKey:        "test-key",
		EmbeddingBaseURL: embedURL,
		EmbeddingModel:   "clip-test",
		VLMBaseURL:       vlmURL,
		VLMModel:         "vlm-test",
		Timeout:          2 * time.Second,
		MaxRetries:       2,
		RetryDelay:       time.Millisecond,
	}
}

func embeddingServer(t *testing.T, vector []float32, failures *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/embeddings") {
			http.NotFound(w, r)
			return
		}
		if failures != nil && failures.Add(-1) >= 0 {
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": vector},
			},
			"model": "clip-test",
		})
	}))
}

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "unavailable", status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"message":       map[string]interface{}{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
		})
	}))
}

func TestEmbedText(t *testing.T) {
	srv := embeddingServer(t, []float32{0.1, 0.2, 0.3}, nil)
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL+"/v1", ""), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	vec, err := c.EmbedText(context.Background(), "what was on screen")
	if err != nil {
		t.Fatalf("EmbedText() error = %v", err)
	}
	if len(vec) != 3 || vec[1] < 0.19 || vec[1] > 0.21 {
		t.Errorf("EmbedText() = %v, want [0.1 0.2 0.3]", vec)
	}
}

func TestEmbedImage_RetriesThenSucceeds(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	srv := embeddingServer(t, []float32{1, 0}, &failures)
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL+"/v1", ""), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	vec, err := c.EmbedImage(context.Background(), []byte{0xff, 0xd8})
	if err != nil {
		t.Fatalf("EmbedImage() after retries error = %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("EmbedImage() = %v, want 2-dim vector", vec)
	}
}

func TestEmbedText_Unavailable(t *testing.T) {
	var failures atomic.Int32
	failures.Store(100)
	srv := embeddingServer(t, nil, &failures)
	defer srv.Close()

	c, err := NewClient(testConfig(srv.URL+"/v1", ""), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.EmbedText(context.Background(), "query")
	if !errors.Is(err, models.ErrEmbeddingUnavailable) {
		t.Errorf("EmbedText() error = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestAnswer(t *testing.T) {
	srv := chatServer(t, "You were editing store.go in your editor.", http.StatusOK)
	defer srv.Close()

	c, err := NewClient(testConfig("", srv.URL+"/v1"), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	got, err := c.Answer(context.Background(), "what file was I editing?", []EvidenceImage{
		{Data: []byte{0xff, 0xd8}, Caption: "code editor", Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "You were editing store.go in your editor." {
		t.Errorf("Answer() = %q", got)
	}
}

func TestAnswer_Unavailable(t *testing.T) {
	srv := chatServer(t, "", http.StatusServiceUnavailable)
	defer srv.Close()

	c, err := NewClient(testConfig("", srv.URL+"/v1"), nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = c.Answer(context.Background(), "anything", nil)
	if !errors.Is(err, models.ErrSynthesisUnavailable) {
		t.Errorf("Answer() error = %v, want ErrSynthesisUnavailable", err)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	cfg := testConfig("", "")
	cfg.OpenAIKey = ""
	if _, err := NewClient(cfg, nil); err == nil {
		t.Error("NewClient() accepted empty key with no local endpoint")
	}
}

func TestAnswerPrompt_IncludesCaptions(t *testing.T) {
	prompt := answerPrompt("what happened?", []EvidenceImage{
		{Caption: "browser with docs", Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
	})
	if !strings.Contains(prompt, "browser with docs") {
		t.Errorf("prompt missing caption: %s", prompt)
	}
	if !strings.Contains(prompt, "2026-03-01T10:00:00Z") {
		t.Errorf("prompt missing timestamp: %s", prompt)
	}
}
