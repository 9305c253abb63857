package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	reply   string
	err     error
	systems []string
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, system, prompt string) (string, error) {
	f.systems = append(f.systems, system)
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func newTestAgent(llm LLM) *Agent {
	a := New(llm, nil)
	a.countTokens = func(string) (int, error) { return 0, errors.New("offline") }
	return a
}

func TestGenerateBuildsPrompt(t *testing.T) {
	llm := &fakeLLM{reply: "42"}
	a := newTestAgent(llm)

	answer, err := a.Generate(context.Background(), "the answer is 42", "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "42", answer)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Context:\nthe answer is 42\n")
	assert.Contains(t, llm.prompts[0], "Question:\nwhat is the answer?\n")
	assert.Equal(t, answerSystem, llm.systems[0])
}

func TestGenerateWrapsErrors(t *testing.T) {
	a := newTestAgent(&fakeLLM{err: errors.New("timeout")})

	_, err := a.Generate(context.Background(), "ctx", "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestParaphraseCleansOutput(t *testing.T) {
	llm := &fakeLLM{reply: "1. How is the paper organized?\n- What are the sections?\n\n  what are the SECTIONS?  \n* List the chapters\nWhat is the structure?\n\"Give an outline\"\nextra line"}
	a := newTestAgent(llm)

	got, err := a.Paraphrase(context.Background(), "What is the structure?", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"How is the paper organized?",
		"What are the sections?",
		"List the chapters",
		"Give an outline",
		"extra line",
	}, got)
}

func TestParaphraseLimit(t *testing.T) {
	a := newTestAgent(&fakeLLM{reply: "a\nb\nc"})

	got, err := a.Paraphrase(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = a.Paraphrase(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOllamaCompleteStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		assert.Equal(t, "sys", req.System)
		w.Write([]byte(`{"response":"Hel","done":false}` + "\n" + `{"response":"lo","done":true}` + "\n"))
	}))
	defer srv.Close()

	out, err := NewOllama(srv.URL, "llama3", time.Second).Complete(context.Background(), "sys", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
}

func TestOpenAICompleteSendsMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "prompt", req.Messages[1].Content)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":" done "}}]}`))
	}))
	defer srv.Close()

	out, err := NewOpenAI(srv.URL, "key", "m", time.Second).Complete(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestOpenAICompleteStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewOpenAI(srv.URL, "", "m", time.Second).Complete(context.Background(), "sys", "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
