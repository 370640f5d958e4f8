package models

import (
	"sort"
	"strings"
	"time"
)

// QuestionType enumerates the prompt kinds a survey can carry.
type QuestionType string

const (
	ShortText      QuestionType = "short_text"
	LongText       QuestionType = "long_text"
	MultipleChoice QuestionType = "multiple_choice"
	Checkbox       QuestionType = "checkbox"
	Dropdown       QuestionType = "dropdown"
	Scale          QuestionType = "scale"
	Date           QuestionType = "date"
	Time           QuestionType = "time"
	FileUpload     QuestionType = "file_upload"
	Email          QuestionType = "email"
	Number         QuestionType = "number"
)

// Default bounds for scale questions that do not set their own.
const (
	DefaultScaleMin = 1
	DefaultScaleMax = 5
)

var questionTypeAliases = map[string]QuestionType{
	"text":   ShortText,
	"rating": Scale,
	"choice": MultipleChoice,
}

// ParseQuestionType normalizes user input (case, aliases) into a known type.
func ParseQuestionType(raw string) (QuestionType, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if t, ok := questionTypeAliases[s]; ok {
		return t, true
	}
	t := QuestionType(s)
	switch t {
	case ShortText, LongText, MultipleChoice, Checkbox, Dropdown, Scale, Date, Time, FileUpload, Email, Number:
		return t, true
	}
	return "", false
}

// IsChoice reports whether answers pick from the question's options.
func (t QuestionType) IsChoice() bool {
	return t == MultipleChoice || t == Checkbox || t == Dropdown
}

// IsNumeric reports whether answers are aggregated as numbers.
func (t QuestionType) IsNumeric() bool {
	return t == Scale || t == Number
}

// IsText reports whether answers are free text (listed verbatim in statistics).
func (t QuestionType) IsText() bool {
	switch t {
	case ShortText, LongText, Email, Date, Time:
		return true
	}
	return false
}

// Question is one prompt inside a survey.
type Question struct {
	ID       string       `json:"id"`
	SurveyID string       `json:"survey_id"`
	Type     QuestionType `json:"type"`
	Title    string       `json:"title"`
	Required bool         `json:"required"`
	Options  []string     `json:"options,omitempty"`
	Order    int          `json:"order"`
	// Min and Max bound scale answers; zero means the default 1..5.
	Min int `json:"min,omitempty"`
	Max int `json:"max,omitempty"`
}

// ScaleBounds returns the inclusive range accepted for a scale question.
func (q *Question) ScaleBounds() (int, int) {
	lo, hi := q.Min, q.Max
	if lo == 0 && hi == 0 {
		return DefaultScaleMin, DefaultScaleMax
	}
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// HasOption reports whether v is one of the question's options.
func (q *Question) HasOption(v string) bool {
	for _, o := range q.Options {
		if o == v {
			return true
		}
	}
	return false
}

// Survey owns its questions and responses.
type Survey struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	IsActive                      bool       `json:"is_active"`
	AcceptsResponses              bool       `json:"accepts_responses"`
	RequiresLogin                 bool       `json:"requires_login"`
	LimitOneResponsePerRespondent bool       `json:"limit_one_response"`
	Deadline                      *time.Time `json:"deadline,omitempty"`
	MaxResponses                  int        `json:"max_responses,omitempty"`
	ShareToken                    string     `json:"share_token"`

	Questions []*Question `json:"questions"`
}

// OrderedQuestions returns the questions sorted by Order; ties keep insertion order.
func (s *Survey) OrderedQuestions() []*Question {
	out := append([]*Question(nil), s.Questions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Question looks up a question by id.
func (s *Survey) Question(id string) *Question {
	for _, q := range s.Questions {
		if q.ID == id {
			return q
		}
	}
	return nil
}

// NextOrder is the order value for a question appended after the existing ones.
func (s *Survey) NextOrder() int {
	next := 0
	for _, q := range s.Questions {
		if q.Order >= next {
			next = q.Order + 1
		}
	}
	return next
}

// Respondent identifies who is submitting. Both fields may be empty (anonymous).
type Respondent struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Authenticated reports whether the respondent is a logged-in user.
func (r Respondent) Authenticated() bool { return strings.TrimSpace(r.UserID) != "" }

// Key is the identity used for one-response-per-respondent checks:
// the user id when authenticated, otherwise the lower-cased email.
// Empty when the respondent cannot be identified.
func (r Respondent) Key() string {
	if id := strings.TrimSpace(r.UserID); id != "" {
		return "user:" + id
	}
	if email := strings.ToLower(strings.TrimSpace(r.Email)); email != "" {
		return "email:" + email
	}
	return ""
}

// Answer is one typed value for one question. At most one slot is populated.
type Answer struct {
	ID         string   `json:"id"`
	ResponseID string   `json:"response_id"`
	QuestionID string   `json:"question_id"`
	Text       *string  `json:"text,omitempty"`
	Number     *float64 `json:"number,omitempty"`
	Choice     *string  `json:"choice,omitempty"`
	Choices    []string `json:"choices,omitempty"`
	FileRef    *string  `json:"file_ref,omitempty"`
}

// Empty reports whether no slot carries a value.
func (a *Answer) Empty() bool {
	return (a.Text == nil || strings.TrimSpace(*a.Text) == "") &&
		a.Number == nil &&
		(a.Choice == nil || *a.Choice == "") &&
		len(a.Choices) == 0 &&
		(a.FileRef == nil || *a.FileRef == "")
}

// Response is one respondent's submission.
type Response struct {
	ID              string    `json:"id"`
	SurveyID        string    `json:"survey_id"`
	RespondentID    string    `json:"respondent_id,omitempty"`
	RespondentEmail string    `json:"respondent_email,omitempty"`
	SubmittedAt     time.Time `json:"submitted_at"`
	IPAddress       string    `json:"ip_address,omitempty"`
	UserAgent       string    `json:"user_agent,omitempty"`
	// DedupeKey is set only when the survey limits one response per respondent;
	// storage enforces uniqueness of (SurveyID, DedupeKey).
	DedupeKey string    `json:"-"`
	Answers   []*Answer `json:"answers"`
}

// Respondent returns the identity that submitted the response.
func (r *Response) Respondent() Respondent {
	return Respondent{UserID: r.RespondentID, Email: r.RespondentEmail}
}

// User is a survey owner (and optionally an authenticated respondent).
type User struct {
	ID        string
	Email     string
	PassHash  []byte
	CreatedAt time.Time
}
