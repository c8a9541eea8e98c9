package karte

import (
	"bytes"
	"encoding/json"
	"strings"
)

// PatchField is one flat scalar field of a student update, already encoded
// for cell storage.
type PatchField struct {
	Name  string
	Value string
}

// StudentPatch is a parsed partial update for one student. Flat fields keep
// the order they appeared in the payload, which is the order newly observed
// columns are appended to the header. The nested collections are tracked
// separately with presence flags, so "absent" and "empty" stay distinct.
type StudentPatch struct {
	Fields []PatchField

	LessonMemos    map[string]LessonMemoPatch
	HasLessonMemos bool

	MemoHistory    []MemoEntry
	HasMemoHistory bool
}

// FieldNames lists the flat field names in payload order.
func (p StudentPatch) FieldNames() []string {
	names := make([]string, 0, len(p.Fields))
	for _, field := range p.Fields {
		names = append(names, field.Name)
	}
	return names
}

func (p StudentPatch) field(name string) (string, bool) {
	for _, field := range p.Fields {
		if field.Name == name {
			return field.Value, true
		}
	}
	return "", false
}

// LessonMemoPatch is the desired state for one lesson record. Nil pointers
// mean the field was absent from the payload and the stored cell must be
// left untouched; non-nil empty values blank the cell.
type LessonMemoPatch struct {
	Growth           *string     `json:"growth"`
	Challenges       *string     `json:"challenges"`
	Instructor       *string     `json:"instructor"`
	GrowthImages     *StringList `json:"growthImages"`
	ChallengesImages *StringList `json:"challengesImages"`
	InstructorImages *StringList `json:"instructorImages"`
}

// isEmpty reports whether every field is absent or blank. Such a patch never
// creates a new row.
func (p LessonMemoPatch) isEmpty() bool {
	for _, field := range []*string{p.Growth, p.Challenges, p.Instructor} {
		if field != nil && strings.TrimSpace(*field) != "" {
			return false
		}
	}
	for _, list := range []*StringList{p.GrowthImages, p.ChallengesImages, p.InstructorImages} {
		if list != nil && len(*list) > 0 {
			return false
		}
	}
	return true
}

// ParseStudentPatch decodes a raw JSON update payload. The top-level object
// is walked in document order so evolved columns land in the header in the
// order they were first observed. Scalar values are encoded for cell
// storage; object and array values are kept as compact JSON text; null
// clears the cell.
func ParseStudentPatch(raw []byte) (StudentPatch, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	opening, err := decoder.Token()
	if err != nil {
		return StudentPatch{}, newValidationError("request body is not valid JSON: %v", err)
	}
	if delim, ok := opening.(json.Delim); !ok || delim != '{' {
		return StudentPatch{}, newValidationError("request body must be a JSON object")
	}

	patch := StudentPatch{}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return StudentPatch{}, newValidationError("request body is not valid JSON: %v", err)
		}
		key, ok := keyToken.(string)
		if !ok {
			return StudentPatch{}, newValidationError("request body must be a JSON object")
		}

		var value json.RawMessage
		if err := decoder.Decode(&value); err != nil {
			return StudentPatch{}, newValidationError("field %q is not valid JSON: %v", key, err)
		}

		switch key {
		case "lessonMemos":
			memos, err := parseLessonMemos(value)
			if err != nil {
				return StudentPatch{}, err
			}
			patch.LessonMemos = memos
			patch.HasLessonMemos = true
		case "memoHistory":
			history, err := parseMemoHistory(value)
			if err != nil {
				return StudentPatch{}, err
			}
			patch.MemoHistory = history
			patch.HasMemoHistory = true
		default:
			patch.Fields = append(patch.Fields, PatchField{Name: key, Value: encodeCellValue(value)})
		}
	}

	if _, err := decoder.Token(); err != nil {
		return StudentPatch{}, newValidationError("request body is not valid JSON: %v", err)
	}
	return patch, nil
}

func parseLessonMemos(raw json.RawMessage) (map[string]LessonMemoPatch, error) {
	if firstByte(raw) != '{' {
		return nil, newValidationError("lessonMemos must be an object keyed by lesson id")
	}
	var memos map[string]LessonMemoPatch
	if err := json.Unmarshal(raw, &memos); err != nil {
		return nil, newValidationError("lessonMemos is malformed: %v", err)
	}
	return memos, nil
}

func parseMemoHistory(raw json.RawMessage) ([]MemoEntry, error) {
	if firstByte(raw) != '[' {
		return nil, newValidationError("memoHistory must be an array of memo entries")
	}
	var history []MemoEntry
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, newValidationError("memoHistory is malformed: %v", err)
	}
	return history, nil
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

// encodeCellValue renders one JSON value as a text cell.
func encodeCellValue(raw json.RawMessage) string {
	switch firstByte(raw) {
	case '"':
		var value string
		if err := json.Unmarshal(raw, &value); err == nil {
			return value
		}
		return ""
	case 't':
		return "true"
	case 'f':
		return "false"
	case 'n':
		return ""
	case '{', '[':
		compacted := &bytes.Buffer{}
		if err := json.Compact(compacted, raw); err == nil {
			return compacted.String()
		}
		return string(bytes.TrimSpace(raw))
	default:
		return string(bytes.TrimSpace(raw))
	}
}
