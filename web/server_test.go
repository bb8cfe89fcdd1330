// ABOUTME: HTTP API tests: run lifecycle, artifact queries, lock handling, error statuses.
// ABOUTME: A stub generator keeps runs fast; run completion is polled through the public API.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/storyboard/layout"
	"github.com/2389-research/storyboard/llm"
	"github.com/2389-research/storyboard/pipeline"
	"github.com/2389-research/storyboard/repair"
	"github.com/2389-research/storyboard/store"
)

var stubPanelRe = regexp.MustCompile(`(?m)^\d+\. `)

// stubGen returns valid JSON for every node kind without external calls.
type stubGen struct{}

func (stubGen) GenerateText(ctx context.Context, req llm.TextRequest) (*llm.TextResponse, error) {
	switch {
	case strings.Contains(req.System, "distill"):
		return &llm.TextResponse{Text: `{"summary": "sum", "mood": "calm", "setting": "here", "characters": []}`}, nil
	case strings.Contains(req.System, "Break the scene into panels"):
		return &llm.TextResponse{Text: `{"panels": [
			{"description": "first beat", "weight": 0.5, "must_dominate": false},
			{"description": "second beat", "weight": 0.5, "must_dominate": false}
		]}`}, nil
	default:
		n := len(stubPanelRe.FindAllString(req.Prompt, -1))
		if n == 0 {
			n = 1
		}
		var panels []string
		for i := 0; i < n; i++ {
			panels = append(panels, fmt.Sprintf(`{"visual_prompt": "art %d"}`, i))
		}
		return &llm.TextResponse{Text: `{"panels": [` + strings.Join(panels, ",") + `]}`}, nil
	}
}

func (stubGen) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	return &llm.ImageResponse{Data: []byte{1, 2, 3}, Model: "stub"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "web.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	factory := func(handler func(pipeline.Event)) *pipeline.Runner {
		return pipeline.NewRunner(
			st, stubGen{}, repair.New(nil),
			layout.NewResolver(layout.DefaultConfig()), layout.DefaultLibrary(),
			pipeline.RunnerConfig{},
			pipeline.WithEventHandler(handler),
		)
	}

	srv := NewServer(st, factory, ServerConfig{})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// waitForRun polls the run state until it leaves the running phase.
func waitForRun(t *testing.T, baseURL, runID string) RunState {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/api/runs/" + runID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		var state RunState
		decodeBody(t, resp, &state)
		if state.Status == StatusSucceeded || state.Status == StatusFailed {
			return state
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return RunState{}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

func TestRunRequiresText(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/api/runs", map[string]string{"style": "ink"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestRunLifecycleAndArtifactQueries(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/runs", map[string]any{
		"text": "First scene text here.\n\n---\n\nSecond one.",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)

	state := waitForRun(t, ts.URL, created.ID)
	if state.Status != StatusSucceeded {
		t.Fatalf("run failed: %+v", state)
	}
	if state.Result == nil || len(state.Result.SceneIDs) != 2 {
		t.Fatalf("unexpected result: %+v", state.Result)
	}

	// The polled state carries the progress snapshot from the engine's node
	// events: the last node of the four-step sequence.
	if state.Progress == nil {
		t.Fatal("run state missing progress")
	}
	if state.Progress.TotalSteps != 4 || state.Progress.Step != 4 {
		t.Errorf("unexpected progress counters: %+v", state.Progress)
	}
	if state.Progress.CurrentNode != "panel-semantics" || state.Progress.Message == "" {
		t.Errorf("unexpected progress snapshot: %+v", state.Progress)
	}

	// Scenes listed by story.
	resp, err := http.Get(ts.URL + "/api/stories/" + state.Result.StoryID + "/scenes")
	if err != nil {
		t.Fatal(err)
	}
	var scenes []store.Scene
	decodeBody(t, resp, &scenes)
	if len(scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(scenes))
	}

	sceneID := state.Result.SceneIDs[0]

	// All artifacts, then filtered by type.
	resp, err = http.Get(ts.URL + "/api/scenes/" + sceneID + "/artifacts")
	if err != nil {
		t.Fatal(err)
	}
	var arts []store.Artifact
	decodeBody(t, resp, &arts)
	if len(arts) != 4 {
		t.Errorf("expected 4 artifacts, got %d", len(arts))
	}

	resp, err = http.Get(ts.URL + "/api/scenes/" + sceneID + "/artifacts?type=panel_plan")
	if err != nil {
		t.Fatal(err)
	}
	var planArts []store.Artifact
	decodeBody(t, resp, &planArts)
	if len(planArts) != 1 || planArts[0].Type != "panel_plan" {
		t.Errorf("unexpected filtered artifacts: %+v", planArts)
	}

	// Latest artifact by type, then fetch it by id.
	resp, err = http.Get(ts.URL + "/api/scenes/" + sceneID + "/artifacts/panel_plan/latest")
	if err != nil {
		t.Fatal(err)
	}
	var latest store.Artifact
	decodeBody(t, resp, &latest)
	if latest.Version != 1 {
		t.Errorf("expected version 1, got %d", latest.Version)
	}

	resp, err = http.Get(ts.URL + "/api/artifacts/" + latest.ID)
	if err != nil {
		t.Fatal(err)
	}
	var byID store.Artifact
	decodeBody(t, resp, &byID)
	if byID.ID != latest.ID {
		t.Errorf("artifact id mismatch: %s vs %s", byID.ID, latest.ID)
	}
}

func TestSceneLockRerunAndUnlock(t *testing.T) {
	ts, st := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/runs", map[string]any{"text": "One short scene."})
	var created struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &created)
	state := waitForRun(t, ts.URL, created.ID)
	if state.Status != StatusSucceeded {
		t.Fatalf("run failed: %+v", state)
	}
	sceneID := state.Result.SceneIDs[0]

	// Lock, then rerun: must replay without new versions.
	resp = postJSON(t, ts.URL+"/api/scenes/"+sceneID+"/lock", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lock: expected 200, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/scenes/"+sceneID+"/rerun", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rerun locked: expected 200, got %d", resp.StatusCode)
	}
	latest, err := st.Latest(context.Background(), sceneID, "panel_plan")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 1 {
		t.Errorf("locked rerun must not create versions, got %d", latest.Version)
	}

	// Unlock, rerun again: a new version appears.
	resp = postJSON(t, ts.URL+"/api/scenes/"+sceneID+"/unlock", nil)
	resp.Body.Close()
	resp = postJSON(t, ts.URL+"/api/scenes/"+sceneID+"/rerun", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rerun unlocked: expected 200, got %d", resp.StatusCode)
	}
	latest, err = st.Latest(context.Background(), sceneID, "panel_plan")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Version != 2 {
		t.Errorf("expected version 2 after unlocked rerun, got %d", latest.Version)
	}
}

func TestLockedSceneWithoutArtifactsConflicts(t *testing.T) {
	ts, st := newTestServer(t)

	sc, err := st.CreateScene(context.Background(), "story-a", 0, "Bare scene.", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SetLocked(context.Background(), sc.ID, true); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, ts.URL+"/api/scenes/"+sc.ID+"/rerun", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for locked scene without artifacts, got %d", resp.StatusCode)
	}
}

func TestNotFoundStatuses(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, url := range []string{
		"/api/runs/nope",
		"/api/scenes/nope/",
		"/api/artifacts/nope",
		"/api/scenes/nope/artifacts/panel_plan/latest",
	} {
		resp, err := http.Get(ts.URL + url)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", url, resp.StatusCode)
		}
	}
}
