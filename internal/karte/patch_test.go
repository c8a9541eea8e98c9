package karte

import (
	"errors"
	"slices"
	"testing"
)

func TestParseStudentPatchKeepsFieldOrder(t *testing.T) {
	patch := mustParsePatch(t, `{"name":"Sato","nickname":"S","mentor":"Tanaka"}`)

	expected := []string{"name", "nickname", "mentor"}
	if !slices.Equal(patch.FieldNames(), expected) {
		t.Fatalf("expected field order %v, got %v", expected, patch.FieldNames())
	}
}

func TestParseStudentPatchEncodesScalars(t *testing.T) {
	patch := mustParsePatch(t, `{
		"name": "Sato",
		"tradeCompetition": true,
		"hasToreTore": false,
		"phone": null,
		"rank": 3,
		"goals": {"q1": "pass"},
		"tags": ["a", "b"]
	}`)

	expected := map[string]string{
		"name":             "Sato",
		"tradeCompetition": "true",
		"hasToreTore":      "false",
		"phone":            "",
		"rank":             "3",
		"goals":            `{"q1":"pass"}`,
		"tags":             `["a","b"]`,
	}
	for name, want := range expected {
		got, ok := patch.field(name)
		if !ok {
			t.Fatalf("expected field %q to be present", name)
		}
		if got != want {
			t.Fatalf("expected field %q to encode to %q, got %q", name, want, got)
		}
	}
}

func TestParseStudentPatchExtractsNestedCollections(t *testing.T) {
	patch := mustParsePatch(t, `{
		"name": "Sato",
		"lessonMemos": {"lesson-1": {"growth": "steady"}},
		"memoHistory": [{"id": "m1", "date": "2024-04-01", "content": "intro", "tag": "general"}]
	}`)

	if !patch.HasLessonMemos {
		t.Fatalf("expected lessonMemos presence flag to be set")
	}
	if !patch.HasMemoHistory {
		t.Fatalf("expected memoHistory presence flag to be set")
	}
	if !slices.Equal(patch.FieldNames(), []string{"name"}) {
		t.Fatalf("expected nested keys to be excluded from flat fields, got %v", patch.FieldNames())
	}
	memo, ok := patch.LessonMemos["lesson-1"]
	if !ok {
		t.Fatalf("expected lesson-1 memo to be parsed")
	}
	if memo.Growth == nil || *memo.Growth != "steady" {
		t.Fatalf("expected growth pointer %q, got %v", "steady", memo.Growth)
	}
	if memo.Challenges != nil {
		t.Fatalf("expected absent challenges field to stay nil")
	}
	if len(patch.MemoHistory) != 1 || patch.MemoHistory[0].ID != "m1" {
		t.Fatalf("unexpected memo history: %+v", patch.MemoHistory)
	}
}

func TestParseStudentPatchDistinguishesAbsentAndEmptyCollections(t *testing.T) {
	withEmpty := mustParsePatch(t, `{"lessonMemos": {}, "memoHistory": []}`)
	if !withEmpty.HasLessonMemos || !withEmpty.HasMemoHistory {
		t.Fatalf("expected empty collections to set presence flags")
	}
	if len(withEmpty.LessonMemos) != 0 || len(withEmpty.MemoHistory) != 0 {
		t.Fatalf("expected empty collections, got %+v", withEmpty)
	}

	without := mustParsePatch(t, `{"name": "Sato"}`)
	if without.HasLessonMemos || without.HasMemoHistory {
		t.Fatalf("expected absent collections to leave presence flags unset")
	}
}

func TestParseStudentPatchRejectsMalformedPayloads(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{name: "non-object body", body: `[1, 2]`},
		{name: "invalid json", body: `{"name":`},
		{name: "lessonMemos not object", body: `{"lessonMemos": []}`},
		{name: "memoHistory not array", body: `{"memoHistory": {}}`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := ParseStudentPatch([]byte(testCase.body))
			var validation *ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLessonMemoPatchEmptyDetection(t *testing.T) {
	empty := LessonMemoPatch{Growth: strPtr(""), Challenges: strPtr("  ")}
	if !empty.isEmpty() {
		t.Fatalf("expected blank patch to be empty")
	}

	withText := LessonMemoPatch{Growth: strPtr("improved")}
	if withText.isEmpty() {
		t.Fatalf("expected textual patch to be non-empty")
	}

	images := StringList{"photo.png"}
	withImages := LessonMemoPatch{GrowthImages: &images}
	if withImages.isEmpty() {
		t.Fatalf("expected patch with images to be non-empty")
	}
}
