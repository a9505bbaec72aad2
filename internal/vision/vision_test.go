package vision

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/ai/azopenai"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeImage(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestImageFormat(t *testing.T) {
	tests := map[string]string{
		"/x/p2.png":  "png",
		"/x/p2.JPG":  "jpeg",
		"a.jpeg":     "jpeg",
		"anim.gif":   "gif",
		"photo.webp": "webp",
		"scan.tiff":  "jpeg",
		"noext":      "jpeg",
	}
	for path, want := range tests {
		if got := imageFormat(path); got != want {
			t.Errorf("imageFormat(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestIsURL(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"https://cdn.example.com/p3.jpg", true},
		{"http://localhost:8080/a.png", true},
		{"/x/p2.png", false},
		{"relative/p2.png", false},
		{"file.png", false},
		{`C:\images\p2.png`, false},
	}
	for _, tt := range tests {
		if got := isURL(tt.ref); got != tt.want {
			t.Errorf("isURL(%q) = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestBuildParts(t *testing.T) {
	path := writeImage(t, "p2.png", []byte("png-bytes"))

	parts, err := buildParts([]string{path, "https://cdn.example.com/p3.jpg"}, "what is shown?")
	if err != nil {
		t.Fatalf("buildParts: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	if want := "data:image/png;base64,cG5nLWJ5dGVz"; parts[0].ImageURL != want {
		t.Errorf("local image = %q, want %q", parts[0].ImageURL, want)
	}
	if parts[1].ImageURL != "https://cdn.example.com/p3.jpg" {
		t.Errorf("URL image = %q", parts[1].ImageURL)
	}
	if parts[2].Text != "what is shown?" || parts[2].ImageURL != "" {
		t.Errorf("question part = %+v", parts[2])
	}

	if _, err := buildParts([]string{"/nonexistent/p9.png"}, "q"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing file err = %v", err)
	}
}

func TestOpenAIBackend(t *testing.T) {
	var got visionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"bar chart of Q4 revenue"}}]}`)
	}))
	defer srv.Close()

	d, err := New(Config{Provider: "openai", BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "llava", Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := d.Describe(context.Background(), Request{
		Images:      []string{"https://cdn.example.com/p2.png"},
		Question:    "describe",
		MaxTokens:   200,
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if out != "bar chart of Q4 revenue" {
		t.Errorf("Describe = %q", out)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Model != "llava" || got.MaxTokens != 200 || got.Temperature != 0.1 {
		t.Errorf("request = %+v", got)
	}
	content := got.Messages[0].Content
	if len(content) != 2 || content[0].Type != "image_url" || content[1].Type != "text" {
		t.Errorf("content = %+v", content)
	}
}

func TestOpenAIBackend_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"status", http.StatusBadRequest, `{"error":"model does not support images"}`, "status 400"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"bad json", http.StatusOK, `not json`, "decode response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			d, _ := New(Config{BaseURL: srv.URL, Logger: discardLogger()})
			_, err := d.Describe(context.Background(), Request{Images: []string{"https://x.test/a.png"}, Question: "q"})
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{Provider: "gemini"}); err == nil {
		t.Error("unknown provider should fail")
	}
	if _, err := New(Config{Provider: "azure"}); err == nil {
		t.Error("azure without endpoint should fail")
	}
	d, err := New(Config{
		Provider:        "azure",
		AzureEndpoint:   "https://example.openai.azure.com",
		AzureAPIKey:     "key",
		AzureDeployment: "gpt-4o",
	})
	if err != nil {
		t.Fatalf("New azure: %v", err)
	}
	if _, ok := d.(*azureBackend); !ok {
		t.Errorf("New azure = %T", d)
	}
}

func TestAzureOptions(t *testing.T) {
	parts := []Part{{ImageURL: "https://x.test/a.png"}, {Text: "what?"}}
	opts := azureOptions("gpt-4o", parts, Request{MaxTokens: 300, Temperature: 0.5})

	if *opts.DeploymentName != "gpt-4o" || *opts.MaxTokens != 300 || *opts.Temperature != 0.5 {
		t.Errorf("options = deployment %q, max %d, temp %v", *opts.DeploymentName, *opts.MaxTokens, *opts.Temperature)
	}
	if len(opts.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(opts.Messages))
	}
	if _, ok := opts.Messages[0].(*azopenai.ChatRequestUserMessage); !ok {
		t.Errorf("message type = %T", opts.Messages[0])
	}

	raw, err := json.Marshal(opts.Messages[0])
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	for _, want := range []string{`"image_url"`, `https://x.test/a.png`, `"what?"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("message JSON missing %s: %s", want, raw)
		}
	}
}

func TestConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"VISION_PROVIDER":    "openai",
		"VISION_MODEL":       "llava",
		"VISION_MAX_TOKENS":  "250",
		"VISION_TEMPERATURE": "0.2",
	}
	cfg, err := ConfigFromEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Model != "llava" || cfg.MaxTokens != 250 || cfg.Temperature != 0.2 {
		t.Errorf("cfg = %+v", cfg)
	}

	cfg, err = ConfigFromEnv(func(string) string { return "" })
	if err != nil {
		t.Fatalf("ConfigFromEnv(empty): %v", err)
	}
	if cfg.MaxTokens != DefaultMaxTokens || cfg.Temperature != DefaultTemperature {
		t.Errorf("defaults = %+v", cfg)
	}

	env["VISION_MAX_TOKENS"] = "lots"
	if _, err := ConfigFromEnv(func(k string) string { return env[k] }); err == nil {
		t.Error("bad max tokens should fail")
	}
}

func TestConfigFromEnv_UnprefixedNames(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		wantURL   string
		wantModel string
		wantKey   string
	}{
		{
			name: "lmstudio",
			env: map[string]string{
				"PROVIDER":           "LMStudio",
				"LMSTUDIO_BASE_URL":  "http://gpu-box:1234/v1",
				"LMSTUDIO_MODEL":     "qwen2-vl",
				"DEFAULT_MAX_TOKENS": "300",
			},
			wantURL:   "http://gpu-box:1234/v1",
			wantModel: "qwen2-vl",
		},
		{
			name: "openai",
			env: map[string]string{
				"PROVIDER":          "openai",
				"OPENAI_BASE_URL":   "https://api.openai.com/v1",
				"OPENAI_MODEL":      "gpt-4o",
				"OPENAI_API_KEY":    "sk-test",
				"LMSTUDIO_BASE_URL": "http://ignored:1234/v1",
			},
			wantURL:   "https://api.openai.com/v1",
			wantModel: "gpt-4o",
			wantKey:   "sk-test",
		},
		{
			name: "prefixed wins",
			env: map[string]string{
				"VISION_PROVIDER": "openai",
				"PROVIDER":        "azure",
				"VISION_MODEL":    "llava",
				"OPENAI_MODEL":    "gpt-4o",
			},
			wantModel: "llava",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ConfigFromEnv(func(k string) string { return tt.env[k] })
			if err != nil {
				t.Fatalf("ConfigFromEnv: %v", err)
			}
			if cfg.BaseURL != tt.wantURL || cfg.Model != tt.wantModel || cfg.APIKey != tt.wantKey {
				t.Errorf("cfg = %+v", cfg)
			}
		})
	}

	cfg, _ := ConfigFromEnv(func(k string) string {
		return map[string]string{"PROVIDER": "LMStudio", "DEFAULT_MAX_TOKENS": "300", "DEFAULT_TEMPERATURE": "0.1"}[k]
	})
	if cfg.Provider != "lmstudio" || cfg.MaxTokens != 300 || cfg.Temperature != 0.1 {
		t.Errorf("unprefixed provider and sampling = %+v", cfg)
	}
	if _, err := New(cfg); err != nil {
		t.Errorf("New(lmstudio): %v", err)
	}
}

type fakeDescriber struct {
	req Request
	out string
	err error
}

func (f *fakeDescriber) Describe(_ context.Context, req Request) (string, error) {
	f.req = req
	return f.out, f.err
}

func TestToolHandler(t *testing.T) {
	defaults := Config{MaxTokens: 1000, Temperature: 0.7}

	f := &fakeDescriber{out: "a bar chart"}
	out, err := ToolHandler(f, defaults)(context.Background(), map[string]any{
		"images":   []any{"/x/p2.png", "", "https://x.test/b.png"},
		"question": "what?",
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if out != "a bar chart" {
		t.Errorf("out = %q", out)
	}
	if len(f.req.Images) != 2 || f.req.MaxTokens != 1000 || f.req.Temperature != 0.7 {
		t.Errorf("request = %+v", f.req)
	}

	_, err = ToolHandler(f, defaults)(context.Background(), map[string]any{"question": "what?"})
	if err == nil || !strings.Contains(err.Error(), "at least one image") {
		t.Errorf("no images err = %v", err)
	}

	f.err = errors.New("model offline")
	_, err = ToolHandler(f, defaults)(context.Background(), map[string]any{"images": []any{"a.png"}, "question": "q"})
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Errorf("describe err = %v", err)
	}
}
