package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"llmtester/internal/history"
	"llmtester/internal/images"
	"llmtester/internal/metrics"
	"llmtester/internal/state"
)

type memStore struct {
	mu       sync.Mutex
	settings []state.SettingsState
	history  []history.Item
	models   []history.ModelItem
	images   []images.MessageImage
	respImgs map[int64][]string
}

func (m *memStore) SaveSettings(_ context.Context, s state.SettingsState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = append(m.settings, s)
	return nil
}

func (m *memStore) InsertHistory(_ context.Context, it history.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append([]history.Item{it}, m.history...)
	return nil
}

func (m *memStore) DeleteHistoryItem(_ context.Context, it history.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.history[:0]
	for _, h := range m.history {
		if h.ID != it.ID {
			out = append(out, h)
		}
	}
	m.history = out
	delete(m.respImgs, it.Timestamp)
	return nil
}

func (m *memStore) ClearAllHistory(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = nil
	m.respImgs = nil
	return nil
}

func (m *memStore) SaveResponseImages(_ context.Context, ts int64, urls []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.respImgs == nil {
		m.respImgs = map[int64][]string{}
	}
	m.respImgs[ts] = urls
	return nil
}

func (m *memStore) SaveModelHistory(_ context.Context, items []history.ModelItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = items
	return nil
}

func (m *memStore) SaveImages(_ context.Context, imgs []images.MessageImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = imgs
	return nil
}

func (m *memStore) ClearImages(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images = nil
	return nil
}

func testSettings(baseURL string) state.SettingsState {
	s := state.DefaultSettings()
	s.Provider = "openai"
	s.BaseURL = baseURL
	s.APIPath = "/v1/chat/completions"
	s.Model = "gpt-3.5-turbo"
	s.APIKey = "sk-test"
	s.Prompt = "Hello"
	s.MaxTokens = 100
	return s
}

func newTestRunner(t *testing.T, s state.SettingsState, mutate ...func(*Config)) (*Runner, *memStore) {
	t.Helper()
	store := &memStore{}
	cfg := Config{
		Settings:      s,
		Store:         store,
		ProbeDebounce: time.Hour,
		Logger:        zerolog.Nop(),
		Metrics:       metrics.New(),
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	r := New(cfg)
	t.Cleanup(r.Close)
	return r, store
}

func TestRunTestRecordsHistory(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		if req.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth %q", req.Header.Get("Authorization"))
		}
		b, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Hi there"}}]}`))
	}))
	defer srv.Close()

	r, store := newTestRunner(t, testSettings(srv.URL))
	res, err := r.RunTest(context.Background())
	if err != nil {
		t.Fatalf("run test: %v", err)
	}
	if res.Outcome != state.OutcomeSuccess || res.Error != "" {
		t.Fatalf("unexpected result %+v", res)
	}

	items := r.History().Items()
	if len(items) != 1 {
		t.Fatalf("expected one history item, got %d", len(items))
	}
	it := items[0]
	if it.ResponseContent != "Hi there" || it.Model != "gpt-3.5-turbo" {
		t.Fatalf("unexpected history item %+v", it)
	}
	if it.Duration == nil {
		t.Fatalf("duration missing")
	}
	if !strings.Contains(it.RequestRaw, "Authorization: Bearer sk-test") {
		t.Fatalf("curl missing key: %s", it.RequestRaw)
	}
	if rs := r.RunState(); rs.Error != "" || rs.Loading || rs.Outcome != state.OutcomeSuccess {
		t.Fatalf("unexpected run state %+v", rs)
	}

	if got["max_tokens"] != float64(100) {
		t.Fatalf("unexpected max_tokens %v", got["max_tokens"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected two messages, got %v", got["messages"])
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "user" || first["content"] != "Hello" {
		t.Fatalf("unexpected first message %v", first)
	}

	r.Flush()
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.history) != 1 || store.history[0].ID != it.ID {
		t.Fatalf("history not persisted: %+v", store.history)
	}
	if len(store.models) != 1 || store.models[0].Status != history.StatusSuccess {
		t.Fatalf("model history not persisted: %+v", store.models)
	}
}

func TestRunTestNewestFirst(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		i := n.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer ` + string(rune('0'+i)) + `"}}]}`))
	}))
	defer srv.Close()

	r, _ := newTestRunner(t, testSettings(srv.URL))
	for i := 0; i < 3; i++ {
		if _, err := r.RunTest(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	items := r.History().Items()
	if len(items) != 3 || items[0].ResponseContent != "answer 3" || items[2].ResponseContent != "answer 1" {
		t.Fatalf("unexpected order %+v", items)
	}
}

func TestRunTestMissingAPIKey(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.APIKey = ""
	r, _ := newTestRunner(t, s)
	_, err := r.RunTest(context.Background())
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if hits.Load() != 0 || r.History().Len() != 0 {
		t.Fatalf("no request and no history expected")
	}
	if r.RunState().Error == "" {
		t.Fatalf("error should be shown")
	}
}

func TestRunTestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer srv.Close()

	r, _ := newTestRunner(t, testSettings(srv.URL))
	res, err := r.RunTest(context.Background())
	if err != nil {
		t.Fatalf("run test: %v", err)
	}
	if res.Outcome != state.OutcomeError || res.Error != "API Error: 401 - bad key" {
		t.Fatalf("unexpected result %+v", res)
	}
	if r.History().Len() != 1 {
		t.Fatalf("error answers are still recorded")
	}
	models := r.ModelHistory().Items()
	if len(models) != 1 || models[0].Status != history.StatusError {
		t.Fatalf("unexpected model history %+v", models)
	}
}

func TestAbortIsNeutral(t *testing.T) {
	arrived := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		close(arrived)
		<-req.Context().Done()
	}))
	defer srv.Close()

	r, _ := newTestRunner(t, testSettings(srv.URL))
	done := make(chan TestResult, 1)
	go func() {
		res, _ := r.RunTest(context.Background())
		done <- res
	}()

	select {
	case <-arrived:
	case <-time.After(5 * time.Second):
		t.Fatalf("request never arrived")
	}
	if !r.Abort() {
		t.Fatalf("abort should find the running test")
	}

	var res TestResult
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("test did not stop after abort")
	}
	if res.Outcome != state.OutcomeInterrupted || res.Item != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if r.History().Len() != 0 {
		t.Fatalf("aborted test must not be recorded")
	}
	if rs := r.RunState(); rs.Loading || rs.Outcome != state.OutcomeInterrupted || rs.Error != "" {
		t.Fatalf("unexpected run state %+v", rs)
	}
	if r.Abort() {
		t.Fatalf("nothing left to abort")
	}
}

func TestTimeoutIsRecordedAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		<-req.Context().Done()
	}))
	defer srv.Close()

	r, _ := newTestRunner(t, testSettings(srv.URL), func(c *Config) {
		c.TestTimeout = 50 * time.Millisecond
	})
	res, err := r.RunTest(context.Background())
	if err != nil {
		t.Fatalf("run test: %v", err)
	}
	if res.Outcome != state.OutcomeError || !strings.HasPrefix(res.Error, "请求超时") {
		t.Fatalf("unexpected result %+v", res)
	}
	items := r.History().Items()
	if len(items) != 1 {
		t.Fatalf("timeout must be recorded")
	}
	it := items[0]
	if it.RequestContent != "" || it.RequestRaw != "" || it.Duration != nil {
		t.Fatalf("error entry carries request data: %+v", it)
	}
	if !strings.Contains(it.ResponseRaw, `"error": "request timed out"`) {
		t.Fatalf("unexpected raw %q", it.ResponseRaw)
	}
}

func TestTextSourceFailureDegrades(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			http.NotFound(w, req)
			return
		}
		b, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(b, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"ok"}]}`))
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.EnablePromptFile = true
	s.PromptFilePath = srv.URL + "/prompt.txt"
	s.AutoReloadPrompt = true
	s.PromptLoadedContent = "cached prompt"

	r, _ := newTestRunner(t, s)
	res, err := r.RunTest(context.Background())
	if err != nil {
		t.Fatalf("run test: %v", err)
	}
	if res.Outcome != state.OutcomeSuccess || len(res.Warnings) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	msgs := body["messages"].([]any)
	if msgs[0].(map[string]any)["content"] != "cached prompt" {
		t.Fatalf("expected cached prompt, got %v", msgs[0])
	}
	if r.History().Items()[0].ResponseContent != "ok" {
		t.Fatalf("anthropic shape not parsed")
	}
}

func TestTextSourceReloadUpdatesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method == http.MethodGet {
			_, _ = w.Write([]byte("fresh system"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"x"}}]}`))
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.EnableSystemPromptFile = true
	s.SystemPromptFilePath = srv.URL + "/system.txt"
	s.AutoReloadSystemPrompt = true

	r, _ := newTestRunner(t, s)
	if _, err := r.RunTest(context.Background()); err != nil {
		t.Fatalf("run test: %v", err)
	}
	if got := r.Settings().SystemPromptLoadedContent; got != "fresh system" {
		t.Fatalf("loaded content not cached, got %q", got)
	}
}

func TestProbe(t *testing.T) {
	var plain atomic.Bool
	plain.Store(true)
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		b, _ := io.ReadAll(req.Body)
		_ = json.Unmarshal(b, &body)
		if plain.Load() {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("ok"))
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}]}`))
	}))
	defer srv.Close()

	r, _ := newTestRunner(t, testSettings(srv.URL))

	res, err := r.ProbeCurrent(context.Background())
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if res.Status != history.StatusError {
		t.Fatalf("non-JSON answer must fail the probe, got %+v", res)
	}
	if body["max_tokens"] != float64(100) || body["stream"] != nil {
		t.Fatalf("unexpected probe body %v", body)
	}

	plain.Store(false)
	res, err = r.ProbeCurrent(context.Background())
	if err != nil || res.Status != history.StatusSuccess {
		t.Fatalf("probe = %+v, %v", res, err)
	}

	models := r.ModelHistory().Items()
	if len(models) != 1 || models[0].Status != history.StatusSuccess || models[0].Model != "gpt-3.5-turbo" {
		t.Fatalf("expected one replaced entry, got %+v", models)
	}
	if rs := r.RunState(); rs.ProbeStatus != state.ProbeSuccess || rs.IsProbeTesting || rs.ProbeDuration == nil {
		t.Fatalf("unexpected run state %+v", rs)
	}
	if r.History().Len() != 0 {
		t.Fatalf("probes are not conversation history")
	}

	if _, err := r.ProbeModel(context.Background(), models[0].ID); err != nil {
		t.Fatalf("probe model: %v", err)
	}
}

func TestSettingsChangeTriggersProbe(t *testing.T) {
	probed := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		probed <- body.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r, _ := newTestRunner(t, testSettings(srv.URL), func(c *Config) {
		c.ProbeDebounce = 30 * time.Millisecond
	})
	for _, m := range []string{"a", "ab", "abc"} {
		if _, err := r.PatchSettings(context.Background(), []byte(`{"model":"`+m+`"}`)); err != nil {
			t.Fatalf("patch: %v", err)
		}
	}

	select {
	case m := <-probed:
		if m != "abc" {
			t.Fatalf("only the last edit should be probed, got %q", m)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("probe never fired")
	}
	select {
	case m := <-probed:
		t.Fatalf("unexpected extra probe for %q", m)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncerTrailing(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(20*time.Millisecond, func() { calls.Add(1) })
	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}

	d.Trigger()
	d.Stop()
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("stopped debouncer fired")
	}
}

func TestTimerStartStop(t *testing.T) {
	var calls atomic.Int32
	tm := NewTimer()
	tm.Start(10*time.Millisecond, func() { calls.Add(1) })
	time.Sleep(55 * time.Millisecond)
	if !tm.Stop() {
		t.Fatalf("stop should report a running timer")
	}
	if tm.Stop() {
		t.Fatalf("second stop must be a no-op")
	}
	n := calls.Load()
	if n < 2 {
		t.Fatalf("expected immediate call plus ticks, got %d", n)
	}
	time.Sleep(40 * time.Millisecond)
	if calls.Load() != n {
		t.Fatalf("timer kept firing after stop")
	}
}

func TestTimerConcurrentStartLeavesOneSchedule(t *testing.T) {
	var calls atomic.Int32
	tm := NewTimer()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tm.Start(5*time.Millisecond, func() { calls.Add(1) })
		}()
	}
	wg.Wait()

	if !tm.Stop() {
		t.Fatalf("expected a running schedule")
	}
	if tm.Running() {
		t.Fatalf("timer still running after stop")
	}
	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != n {
		t.Fatalf("a replaced schedule kept firing: %d -> %d", n, calls.Load())
	}
}

func TestStartTimerRunsImmediately(t *testing.T) {
	hit := make(chan struct{}, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hit <- struct{}{}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"t"}}]}`))
	}))
	defer srv.Close()

	s := testSettings(srv.URL)
	s.TimerInterval = 3600
	r, _ := newTestRunner(t, s)
	if err := r.StartTimer(); err != nil {
		t.Fatalf("start timer: %v", err)
	}
	select {
	case <-hit:
	case <-time.After(5 * time.Second):
		t.Fatalf("timer did not run a test right away")
	}
	if !r.RunState().IsTimerRunning {
		t.Fatalf("run state should show the timer")
	}
	r.StopTimer()
	r.StopTimer()
	if r.TimerRunning() || r.RunState().IsTimerRunning {
		t.Fatalf("timer should be stopped")
	}
}

func TestHistoryOperations(t *testing.T) {
	items := []history.Item{{ID: "b", Timestamp: 2}, {ID: "a", Timestamp: 1}}
	r, store := newTestRunner(t, state.DefaultSettings(), func(c *Config) {
		c.History = items
		c.ModelHistory = []history.ModelItem{{ID: "m", Provider: "openai", Model: "x", Status: history.StatusIdle}}
	})

	page := r.HistoryPage(1, 1)
	if page.TotalPages != 2 || page.Items[0].ID != "b" {
		t.Fatalf("unexpected page %+v", page)
	}
	if !r.DeleteHistory("b") || r.DeleteHistory("missing") {
		t.Fatalf("delete results wrong")
	}
	if csv := r.HistoryCSV(false, time.UTC); !strings.HasPrefix(csv, history.BOM) {
		t.Fatalf("csv must start with a BOM")
	}
	r.ClearHistory()
	if r.History().Len() != 0 {
		t.Fatalf("history not cleared")
	}

	if _, err := r.ApplyModelHistory("m"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if s := r.Settings(); s.Provider != "openai" || s.Model != "x" {
		t.Fatalf("model history not applied: %+v", s)
	}
	if !r.DeleteModelHistory("m") {
		t.Fatalf("delete model history failed")
	}

	r.Flush()
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.models) != 0 {
		t.Fatalf("model history deletion not persisted")
	}
}

func TestImagesAndReset(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}))
	defer srv.Close()

	r, store := newTestRunner(t, state.DefaultSettings())
	img, err := r.AddImageURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("add url: %v", err)
	}
	if _, err := r.AddImageFile(images.File{Name: "b.png", Type: "image/png", Data: png}); err != nil {
		t.Fatalf("add file: %v", err)
	}
	if _, err := r.AddImageFile(images.File{Name: "c.txt", Type: "text/plain", Data: []byte("x")}); !errors.Is(err, images.ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	if got := r.ReloadImages(context.Background()); len(got) != 2 || got[0].ID != img.ID {
		t.Fatalf("reload changed identity: %+v", got)
	}
	if !r.RemoveImage(img.ID) || len(r.Images()) != 1 {
		t.Fatalf("remove failed")
	}

	if _, err := r.PatchSettings(context.Background(), []byte(`{"model":"custom-model"}`)); err != nil {
		t.Fatalf("patch: %v", err)
	}
	s := r.ResetSettings(context.Background())
	if s.Model != "" || len(r.Images()) != 0 {
		t.Fatalf("reset incomplete: %+v", s)
	}

	r.Flush()
	store.mu.Lock()
	defer store.mu.Unlock()
	if store.images != nil {
		t.Fatalf("images should be cleared in storage")
	}
	last := store.settings[len(store.settings)-1]
	if last.Model != "" || last.Provider != "openrouter" {
		t.Fatalf("reset settings not persisted: %+v", last)
	}
}

func TestConcurrentSettingsChangesPersistLatest(t *testing.T) {
	r, store := newTestRunner(t, state.DefaultSettings())

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.PatchSettings(context.Background(), []byte(fmt.Sprintf(`{"temperature":%d}`, i))); err != nil {
				t.Errorf("patch: %v", err)
			}
		}(i)
	}
	wg.Wait()
	r.Flush()

	want := r.Settings().Temperature
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.settings) == 0 {
		t.Fatalf("nothing persisted")
	}
	if got := store.settings[len(store.settings)-1].Temperature; got != want {
		t.Fatalf("persisted temperature %v, current %v", got, want)
	}
}

func TestRemoveDuringReloadStaysRemoved(t *testing.T) {
	var block atomic.Bool
	hit := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if block.Load() {
			once.Do(func() { close(hit) })
			<-release
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	defer srv.Close()

	r, store := newTestRunner(t, state.DefaultSettings())
	a, err := r.AddImageURL(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("add url: %v", err)
	}
	b, err := r.AddImageFile(images.File{Name: "b.png", Type: "image/png", Data: []byte("png")})
	if err != nil {
		t.Fatalf("add file: %v", err)
	}

	block.Store(true)
	done := make(chan []images.MessageImage)
	go func() { done <- r.ReloadImages(context.Background()) }()
	<-hit
	if !r.RemoveImage(a.ID) {
		t.Fatalf("remove failed")
	}
	close(release)
	got := <-done

	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("reload result brought back a removed image: %+v", got)
	}
	if cur := r.Images(); len(cur) != 1 || cur[0].ID != b.ID {
		t.Fatalf("removed image came back: %+v", cur)
	}
	r.Flush()
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.images) != 1 || store.images[0].ID != b.ID {
		t.Fatalf("stored images %+v", store.images)
	}
}

type fakeSource struct{}

func (fakeSource) LoadSettings(context.Context) ([]byte, error) {
	return []byte(`{"model":"saved","maxTokens":"oops","apiKey":""}`), nil
}
func (fakeSource) MigrateLegacyHistory(context.Context) (int, error) { return 0, nil }
func (fakeSource) ListHistory(context.Context) ([]history.Item, error) {
	return nil, errors.New("db down")
}
func (fakeSource) LoadModelHistory(context.Context) ([]history.ModelItem, error) {
	return []history.ModelItem{{ID: "1"}}, nil
}
func (fakeSource) LoadImages(context.Context) ([]images.MessageImage, error) { return nil, nil }

func TestBootstrap(t *testing.T) {
	snap := Bootstrap(context.Background(), fakeSource{}, zerolog.Nop())
	if snap.Settings.Model != "saved" {
		t.Fatalf("saved model not applied: %+v", snap.Settings)
	}
	if snap.Settings.MaxTokens != state.DefaultSettings().MaxTokens {
		t.Fatalf("mistyped field should be ignored")
	}
	if snap.History != nil || len(snap.ModelHistory) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
