package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ptalab/karte-api/internal/karte"
	"github.com/ptalab/karte-api/internal/server"
	"github.com/ptalab/karte-api/internal/tabular"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newEnvironment(t *testing.T) (http.Handler, *tabular.MemoryStore) {
	t.Helper()
	store := tabular.NewMemoryStore()
	repository, err := karte.NewRepository(karte.RepositoryConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}
	handler, err := server.NewHTTPHandler(server.Dependencies{Repository: repository})
	if err != nil {
		t.Fatalf("unexpected handler error: %v", err)
	}
	return handler, store
}

func do(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("unexpected response decode error: %v (body %q)", err, recorder.Body.String())
	}
}

func TestStudentLifecycleOverHTTP(t *testing.T) {
	handler, store := newEnvironment(t)

	// Create with an evolved column and both nested collections in one shot.
	recorder := do(t, handler, http.MethodPost, "/api/students/s1", `{
		"name": "Sato",
		"mentor": "Tanaka",
		"tradeCompetition": true,
		"lessonMemos": {"l1": {"growth": "steady"}},
		"memoHistory": [{"id": "m1", "date": "2024-04-01", "content": "intro", "tag": "general"}]
	}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on create, got %d (body %q)", recorder.Code, recorder.Body.String())
	}

	// The student sheet header grew by the evolved column.
	sheet, err := store.Sheet(context.Background(), karte.CollectionStudents)
	if err != nil {
		t.Fatalf("unexpected sheet error: %v", err)
	}
	header, err := sheet.Header(context.Background())
	if err != nil {
		t.Fatalf("unexpected header error: %v", err)
	}
	if !slices.Contains(header, "mentor") {
		t.Fatalf("expected evolved header to contain mentor, got %v", header)
	}
	if slices.Contains(header, "lessonMemos") || slices.Contains(header, "memoHistory") {
		t.Fatalf("expected nested keys to stay off the header, got %v", header)
	}

	// A flat update drops unknown keys without touching the header.
	recorder = do(t, handler, http.MethodPost, "/api/students/s1", `{"status":"active","unknownKey":"x"}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d (body %q)", recorder.Code, recorder.Body.String())
	}
	header, err = sheet.Header(context.Background())
	if err != nil {
		t.Fatalf("unexpected header error: %v", err)
	}
	if slices.Contains(header, "unknownKey") {
		t.Fatalf("expected update to leave the header alone, got %v", header)
	}

	// Reconcile the lesson memos down to a different set.
	recorder = do(t, handler, http.MethodPost, "/api/students/s1/lesson-memos", `{
		"lessonMemos": {"l2": {"challenges": "pacing", "challengesImages": ["c.png"]}}
	}`)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on memo sync, got %d (body %q)", recorder.Code, recorder.Body.String())
	}
	var memos map[string]map[string]any
	decode(t, recorder, &memos)
	if _, ok := memos["l1"]; ok {
		t.Fatalf("expected l1 to be reconciled away, got %v", memos)
	}
	if memos["l2"]["challenges"] != "pacing" {
		t.Fatalf("unexpected reconciled memos: %v", memos)
	}

	// Memo history replacement, then an identical resubmit that must not write.
	historyBody := `{"memoHistory": [
		{"id": "m1", "date": "2024-04-01", "content": "intro revised", "tag": "general"},
		{"id": "m2", "date": "2024-04-08", "content": "review", "tag": "exam"}
	]}`
	recorder = do(t, handler, http.MethodPost, "/api/students/s1/memo-history", historyBody)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on history sync, got %d (body %q)", recorder.Code, recorder.Body.String())
	}
	before := store.Stats()
	recorder = do(t, handler, http.MethodPost, "/api/students/s1/memo-history", historyBody)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on resubmit, got %d (body %q)", recorder.Code, recorder.Body.String())
	}
	after := store.Stats()
	if after.Appends != before.Appends || after.Saves != before.Saves || after.Deletes != before.Deletes {
		t.Fatalf("expected identical resubmit to issue no writes, stats went %+v -> %+v", before, after)
	}

	// The joined read reflects everything above.
	recorder = do(t, handler, http.MethodGet, "/api/students/s1", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d (body %q)", recorder.Code, recorder.Body.String())
	}
	var student map[string]any
	decode(t, recorder, &student)
	if student["name"] != "Sato" || student["status"] != "active" || student["mentor"] != "Tanaka" {
		t.Fatalf("unexpected student fields: %v", student)
	}
	if student["tradeCompetition"] != true {
		t.Fatalf("expected bool field to survive the round trip, got %v", student["tradeCompetition"])
	}
	joinedMemos, ok := student["lessonMemos"].(map[string]any)
	if !ok || len(joinedMemos) != 1 {
		t.Fatalf("unexpected joined lesson memos: %v", student["lessonMemos"])
	}
	history, ok := student["memoHistory"].([]any)
	if !ok || len(history) != 2 {
		t.Fatalf("unexpected joined memo history: %v", student["memoHistory"])
	}
}

func TestStudentLifecycleOnSQLite(t *testing.T) {
	path := t.TempDir() + "/karte.db"
	store, err := tabular.OpenSQLite(path, nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("unexpected close error: %v", err)
		}
	})

	repository, err := karte.NewRepository(karte.RepositoryConfig{Store: store})
	if err != nil {
		t.Fatalf("unexpected repository error: %v", err)
	}

	patch, err := karte.ParseStudentPatch([]byte(`{
		"name": "Sato",
		"lessonMemos": {"l1": {"growth": "steady"}}
	}`))
	if err != nil {
		t.Fatalf("unexpected patch error: %v", err)
	}
	created, err := repository.CreateStudent(context.Background(), "s1", patch)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if created == nil || created.Name != "Sato" {
		t.Fatalf("unexpected created student: %+v", created)
	}
	if len(created.LessonMemos) != 1 || created.LessonMemos["l1"].Growth != "steady" {
		t.Fatalf("unexpected joined memos: %+v", created.LessonMemos)
	}

	fetched, err := repository.FindStudentByID(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected find error: %v", err)
	}
	if fetched == nil || fetched.Name != "Sato" {
		t.Fatalf("unexpected fetched student: %+v", fetched)
	}
}
