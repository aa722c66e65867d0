// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "time"

// IndexTask asks the ingestion consumer to (re-)index one course chapter.
// Text carries the chapter inline; for large chapters ObjectKey points at the
// raw text archived in object storage and Text is left empty.
type IndexTask struct {
	TaskID      string    `json:"task_id"`
	CourseID    string    `json:"course_id"`
	ChapterID   string    `json:"chapter_id"`
	Text        string    `json:"text,omitempty"`
	ObjectKey   string    `json:"object_key,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Key groups tasks of one chapter onto the same partition so they are consumed in order.
func (t IndexTask) Key() string {
	return t.CourseID + "/" + t.ChapterID
}
