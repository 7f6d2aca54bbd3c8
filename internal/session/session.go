package session

import (
	"time"

	"github.com/google/uuid"
)

// StepDone marks a session whose last field has been answered.
const StepDone = "done"

// Answer is one recorded field value.
type Answer struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Answers keeps values in the order the questions were asked.
type Answers []Answer

// Get returns the value recorded for field.
func (a Answers) Get(field string) (string, bool) {
	for _, ans := range a {
		if ans.Field == field {
			return ans.Value, true
		}
	}
	return "", false
}

// With returns a copy with field set to value. An existing entry keeps its
// position.
func (a Answers) With(field, value string) Answers {
	out := make(Answers, len(a), len(a)+1)
	copy(out, a)
	for i := range out {
		if out[i].Field == field {
			out[i].Value = value
			return out
		}
	}
	return append(out, Answer{Field: field, Value: value})
}

// Map flattens the answers into a lookup table.
func (a Answers) Map() map[string]string {
	m := make(map[string]string, len(a))
	for _, ans := range a {
		m[ans.Field] = ans.Value
	}
	return m
}

// Session is the in-progress questionnaire of one user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Step      string    `json:"step"`
	Answers   Answers   `json:"answers"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newSession(userID, step string, now time.Time) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Step:      step,
		Answers:   Answers{},
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether every field has been answered.
func (s *Session) Done() bool {
	return s.Step == StepDone
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = make(Answers, len(s.Answers))
	copy(c.Answers, s.Answers)
	return &c
}
