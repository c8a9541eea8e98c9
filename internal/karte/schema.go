// Package karte implements the spreadsheet-backed persistence layer for the
// student progress tracker: typed entities over stringly-typed rows, header
// evolution, and full-collection reconciliation for the nested child sheets.
package karte

// Collection titles of the three logical entity sets.
const (
	CollectionStudents      = "students"
	CollectionLessonRecords = "lesson_records"
	CollectionMemoHistory   = "memo_history"
)

// ColumnKind tags how a column's text cell is encoded.
type ColumnKind int

const (
	// KindString cells hold the value verbatim.
	KindString ColumnKind = iota
	// KindBool cells hold "true" or "false".
	KindBool
	// KindJSON cells hold a JSON-encoded sub-document.
	KindJSON
)

// Column declares one named column of a collection schema.
type Column struct {
	Name string
	Kind ColumnKind
}

var studentColumns = []Column{
	{Name: "id"},
	{Name: "name"},
	{Name: "status"},
	{Name: "rank"},
	{Name: "term"},
	{Name: "email"},
	{Name: "phone"},
	{Name: "dob"},
	{Name: "fxtfId"},
	{Name: "fxtfPw"},
	{Name: "tradeHistory"},
	{Name: "trainingHistory"},
	{Name: "address"},
	{Name: "noteName"},
	{Name: "outputUrl"},
	{Name: "goals"},
	{Name: "issues"},
	{Name: "verificationProgress"},
	{Name: "tradeCompetition", Kind: KindBool},
	{Name: "hasToreTore", Kind: KindBool},
	{Name: "photoUrl"},
}

var lessonRecordColumns = []Column{
	{Name: "id"},
	{Name: "studentId"},
	{Name: "lessonId"},
	{Name: "growth"},
	{Name: "challenges"},
	{Name: "instructor"},
	{Name: "growthImages", Kind: KindJSON},
	{Name: "challengesImages", Kind: KindJSON},
	{Name: "instructorImages", Kind: KindJSON},
}

var memoEntryColumns = []Column{
	{Name: "id"},
	{Name: "studentId"},
	{Name: "date"},
	{Name: "content"},
	{Name: "tag"},
}

var collectionColumns = map[string][]Column{
	CollectionStudents:      studentColumns,
	CollectionLessonRecords: lessonRecordColumns,
	CollectionMemoHistory:   memoEntryColumns,
}

// nestedCollectionKeys are payload keys that route to child sheets and are
// deliberately never materialized as flat student columns.
var nestedCollectionKeys = map[string]struct{}{
	"lessonMemos": {},
	"memoHistory": {},
}

var studentColumnKinds = columnKinds(studentColumns)

func columnKinds(columns []Column) map[string]ColumnKind {
	kinds := make(map[string]ColumnKind, len(columns))
	for _, column := range columns {
		kinds[column.Name] = column.Kind
	}
	return kinds
}

// Columns returns the declared schema of a collection, nil for unknown names.
func Columns(collection string) []Column {
	return collectionColumns[collection]
}

// ColumnNames returns the declared header of a collection in order.
func ColumnNames(collection string) []string {
	columns := collectionColumns[collection]
	names := make([]string, 0, len(columns))
	for _, column := range columns {
		names = append(names, column.Name)
	}
	return names
}

func isNestedCollectionKey(name string) bool {
	_, ok := nestedCollectionKeys[name]
	return ok
}
