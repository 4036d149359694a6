package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xaenox/midas/internal/agent"
	"github.com/xaenox/midas/internal/models"
	"github.com/xaenox/midas/internal/storage"
)

type scriptRuntime struct {
	out     string
	err     error
	name    string
	args    []string
	timeout time.Duration
}

func (r *scriptRuntime) GetLogs(context.Context, int) (string, error) { return "", nil }
func (r *scriptRuntime) GetState(context.Context) (agent.State, error) {
	return agent.State{}, nil
}
func (r *scriptRuntime) RunScript(_ context.Context, name string, args []string, timeout time.Duration) (string, error) {
	r.name, r.args, r.timeout = name, args, timeout
	return r.out, r.err
}

func TestAgentGenerator(t *testing.T) {
	rt := &scriptRuntime{out: "  {\"symbol\":\"AAPL\",\"narrative\":\"...\"}\n"}
	g := NewAgentGenerator(rt, 0)
	got, err := g.Generate(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(got) != `{"symbol":"AAPL","narrative":"..."}` {
		t.Fatalf("got=%s", got)
	}
	if rt.name != agent.ScriptGenerateNarrative || rt.args[0] != "AAPL" || rt.timeout != AgentTimeout {
		t.Fatalf("call=%s %v %v", rt.name, rt.args, rt.timeout)
	}

	rt.out = "Traceback (most recent call last)"
	if _, err := g.Generate(context.Background(), "AAPL"); !errors.Is(err, ErrBadOutput) {
		t.Fatalf("err=%v want ErrBadOutput", err)
	}

	rt.err = agent.ErrTimeout
	if _, err := g.Generate(context.Background(), "AAPL"); !errors.Is(err, agent.ErrTimeout) {
		t.Fatalf("err=%v want ErrTimeout", err)
	}
}

func TestOpenAIGenerator(t *testing.T) {
	var prompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.Unmarshal(body, &req)
		if len(req.Messages) > 0 {
			prompt = req.Messages[0].Content
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":0,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"{\"symbol\":\"AAPL\",\"stance\":\"HOLD\"}"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	history := storage.NewFileHistory(filepath.Join(t.TempDir(), "history.json"), nil)
	g := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, history, nil)

	if _, err := g.Generate(ctx, "AAPL"); !errors.Is(err, ErrNoAnalysis) {
		t.Fatalf("err=%v want ErrNoAnalysis", err)
	}

	if _, err := history.Append(ctx, models.Analysis{Symbol: "AAPL", Decision: "HOLD", Summary: "range bound"}); err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(got) != `{"symbol":"AAPL","stance":"HOLD"}` {
		t.Fatalf("got=%s", got)
	}
	if !strings.Contains(prompt, "range bound") || !strings.Contains(prompt, "narrative report for AAPL") {
		t.Fatalf("prompt=%q", prompt)
	}
}

func TestNew(t *testing.T) {
	if g, err := New("", &scriptRuntime{}, OpenAIConfig{}, nil, nil); err != nil {
		t.Fatal(err)
	} else if _, ok := g.(*AgentGenerator); !ok {
		t.Fatalf("default provider=%T", g)
	}
	if _, err := New(ProviderOpenAI, nil, OpenAIConfig{}, nil, nil); err == nil {
		t.Fatalf("openai without key accepted")
	}
	if _, err := New("claude", nil, OpenAIConfig{}, nil, nil); err == nil {
		t.Fatalf("unknown provider accepted")
	}
}
