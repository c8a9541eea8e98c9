package karte

import (
	"encoding/json"
	"strings"
)

// StringList is a list of values stored JSON-encoded inside a single text
// cell. An empty list encodes to the empty cell so untouched columns stay
// blank in the sheet.
type StringList []string

// EncodeCell renders the list for storage.
func (l StringList) EncodeCell() string {
	if len(l) == 0 {
		return ""
	}
	encoded, err := json.Marshal([]string(l))
	if err != nil {
		return ""
	}
	return string(encoded)
}

// DecodeStringList parses a stored cell back into a list. Blank and
// unparseable cells decode to nil.
func DecodeStringList(cell string) StringList {
	if strings.TrimSpace(cell) == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(cell), &values); err != nil {
		return nil
	}
	return values
}

// Student is the primary entity. Declared fields mirror the student sheet
// columns; Extra carries columns added at runtime through header evolution.
// The two nested collections are populated only on joined reads and never
// stored as student columns.
type Student struct {
	ID                   string
	Name                 string
	Status               string
	Rank                 string
	Term                 string
	Email                string
	Phone                string
	DateOfBirth          string
	FxtfID               string
	FxtfPassword         string
	TradeHistory         string
	TrainingHistory      string
	Address              string
	NoteName             string
	OutputURL            string
	Goals                string
	Issues               string
	VerificationProgress string
	TradeCompetition     bool
	HasToreTore          bool
	PhotoURL             string

	Extra map[string]string

	LessonMemos map[string]LessonMemo
	MemoHistory []MemoEntry
}

// LessonMemo carries the instructor notes for one (student, lesson) pair.
type LessonMemo struct {
	Growth           string     `json:"growth"`
	Challenges       string     `json:"challenges"`
	Instructor       string     `json:"instructor"`
	GrowthImages     StringList `json:"growthImages,omitempty"`
	ChallengesImages StringList `json:"challengesImages,omitempty"`
	InstructorImages StringList `json:"instructorImages,omitempty"`
}

// MemoEntry is one timestamped free-text note in a student's memo history.
// The id is caller-supplied and acts as the reconciliation key.
type MemoEntry struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	Content string `json:"content"`
	Tag     string `json:"tag"`
}

// cell returns the encoded cell value for a declared student column.
func (s *Student) cell(column string) string {
	switch column {
	case "id":
		return s.ID
	case "name":
		return s.Name
	case "status":
		return s.Status
	case "rank":
		return s.Rank
	case "term":
		return s.Term
	case "email":
		return s.Email
	case "phone":
		return s.Phone
	case "dob":
		return s.DateOfBirth
	case "fxtfId":
		return s.FxtfID
	case "fxtfPw":
		return s.FxtfPassword
	case "tradeHistory":
		return s.TradeHistory
	case "trainingHistory":
		return s.TrainingHistory
	case "address":
		return s.Address
	case "noteName":
		return s.NoteName
	case "outputUrl":
		return s.OutputURL
	case "goals":
		return s.Goals
	case "issues":
		return s.Issues
	case "verificationProgress":
		return s.VerificationProgress
	case "tradeCompetition":
		return encodeBool(s.TradeCompetition)
	case "hasToreTore":
		return encodeBool(s.HasToreTore)
	case "photoUrl":
		return s.PhotoURL
	}
	return s.Extra[column]
}

// setCell assigns a raw cell value to the matching declared field, or to
// Extra for columns added through header evolution.
func (s *Student) setCell(column, raw string) {
	switch column {
	case "id":
		s.ID = raw
	case "name":
		s.Name = raw
	case "status":
		s.Status = raw
	case "rank":
		s.Rank = raw
	case "term":
		s.Term = raw
	case "email":
		s.Email = raw
	case "phone":
		s.Phone = raw
	case "dob":
		s.DateOfBirth = raw
	case "fxtfId":
		s.FxtfID = raw
	case "fxtfPw":
		s.FxtfPassword = raw
	case "tradeHistory":
		s.TradeHistory = raw
	case "trainingHistory":
		s.TrainingHistory = raw
	case "address":
		s.Address = raw
	case "noteName":
		s.NoteName = raw
	case "outputUrl":
		s.OutputURL = raw
	case "goals":
		s.Goals = raw
	case "issues":
		s.Issues = raw
	case "verificationProgress":
		s.VerificationProgress = raw
	case "tradeCompetition":
		s.TradeCompetition = decodeBool(raw)
	case "hasToreTore":
		s.HasToreTore = decodeBool(raw)
	case "photoUrl":
		s.PhotoURL = raw
	default:
		if s.Extra == nil {
			s.Extra = map[string]string{}
		}
		s.Extra[column] = raw
	}
}

// MarshalJSON flattens declared columns, evolved extra columns, and any
// joined child collections into a single object, mirroring the shape the
// front end consumes. Cells that look like JSON sub-documents are recovered
// into structured values.
func (s Student) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(studentColumns)+len(s.Extra)+2)
	for _, column := range studentColumns {
		switch column.Kind {
		case KindBool:
			out[column.Name] = decodeBool(s.cell(column.Name))
		default:
			out[column.Name] = recoverCellValue(s.cell(column.Name))
		}
	}
	for name, value := range s.Extra {
		out[name] = recoverCellValue(value)
	}
	if s.LessonMemos != nil {
		out["lessonMemos"] = s.LessonMemos
	}
	if s.MemoHistory != nil {
		out["memoHistory"] = s.MemoHistory
	}
	return json.Marshal(out)
}

func encodeBool(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

func decodeBool(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "true", "1":
		return true
	}
	return false
}

// recoverCellValue attempts to turn a cell that holds serialized JSON back
// into a structured value, leaving everything else untouched.
func recoverCellValue(cell string) any {
	trimmed := strings.TrimSpace(cell)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var value any
		if err := json.Unmarshal([]byte(trimmed), &value); err == nil {
			return value
		}
	}
	return cell
}
