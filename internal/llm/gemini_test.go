package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolve(t *testing.T) {
	var gotPath, gotKey string
	var gotBody generateRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"الحل: "},{"text":"x = 2"}]}}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "gemini-2.5-flash")
	answer, err := client.Solve(context.Background(), "solve this", []byte("img"), "image/png")
	require.NoError(t, err)

	assert.Equal(t, "الحل: x = 2", answer)
	assert.Equal(t, "/v1beta/models/gemini-2.5-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotBody.Contents, 1)
	require.Len(t, gotBody.Contents[0].Parts, 2)
	assert.Equal(t, "solve this", gotBody.Contents[0].Parts[0].Text)
	assert.Equal(t, "image/png", gotBody.Contents[0].Parts[1].InlineData.MimeType)
}

func TestSolveErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":429,"message":"quota"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "gemini-2.5-flash")
	_, err := client.Solve(context.Background(), "solve", []byte("img"), "image/png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestSolveStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))
		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range []string{"الحل ", "المفصل ", "هو 42"} {
			fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":%q}]}}]}\n\n", chunk)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "gemini-2.5-flash")
	var chunks []string
	err := client.SolveStream(context.Background(), "solve", []byte("img"), "image/png", func(chunk string) error {
		chunks = append(chunks, chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"الحل ", "المفصل ", "هو 42"}, chunks)
}

func TestSolveStreamCallbackAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 10; i++ {
			fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"x\"}]}}]}\n\n")
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "gemini-2.5-flash")
	calls := 0
	err := client.SolveStream(context.Background(), "solve", []byte("img"), "image/png", func(string) error {
		calls++
		return fmt.Errorf("stop")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestSolveStreamEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", "gemini-2.5-flash")
	err := client.SolveStream(context.Background(), "solve", []byte("img"), "image/png", func(string) error { return nil })
	require.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	detailed := BuildPrompt("الثانية بكالوريا (علوم رياضية)", "ar", StyleDetailed)
	assert.Contains(t, detailed, "الثانية بكالوريا (علوم رياضية)")
	assert.Contains(t, detailed, "خطوة خطوة")

	concise := BuildPrompt("", "fr", StyleConcise)
	assert.Contains(t, concise, "مستوى غير محدد")
	assert.Contains(t, concise, "fr")
	assert.False(t, strings.Contains(concise, "خطوة خطوة"))
}
