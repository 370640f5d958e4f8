package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ckdtjq0011/saas-survey/internal/models"
)

var formatValidator = validator.New()

// Format tags for text answers whose shape is constrained.
var textFormats = map[models.QuestionType]string{
	models.Email: "email",
	models.Date:  "datetime=2006-01-02",
	models.Time:  "datetime=15:04",
}

func answerErr(questionID string, reason Reason, msg string) *AnswerError {
	return &AnswerError{QuestionID: questionID, Reason: reason, Message: msg}
}

// ValidateAnswer checks one answer against its question. A nil question means
// the answer references a question outside the survey.
func ValidateAnswer(q *models.Question, a *models.Answer) error {
	if q == nil {
		id := ""
		if a != nil {
			id = a.QuestionID
		}
		return answerErr(id, ReasonUnknownQuestion, fmt.Sprintf("invalid question id: %q", id))
	}
	if a == nil || a.Empty() {
		if q.Required {
			return answerErr(q.ID, ReasonRequiredAnswerMissing, fmt.Sprintf("question %q is required", q.Title))
		}
		return nil
	}
	if populatedSlots(a) > 1 {
		return mismatch(q)
	}

	switch {
	case q.Type.IsText():
		if a.Text == nil {
			return mismatch(q)
		}
		if tag, ok := textFormats[q.Type]; ok {
			if err := formatValidator.Var(strings.TrimSpace(*a.Text), tag); err != nil {
				return answerErr(q.ID, ReasonInvalidFormat, fmt.Sprintf("question %q requires a valid %s", q.Title, q.Type))
			}
		}
	case q.Type.IsNumeric():
		v, err := numericValue(q, a)
		if err != nil {
			return err
		}
		if q.Type == models.Scale {
			lo, hi := q.ScaleBounds()
			if v < float64(lo) || v > float64(hi) {
				return answerErr(q.ID, ReasonOutOfRange, fmt.Sprintf("question %q accepts values %d..%d", q.Title, lo, hi))
			}
		}
	case q.Type == models.Checkbox:
		if len(a.Choices) == 0 {
			return mismatch(q)
		}
		seen := make(map[string]struct{}, len(a.Choices))
		for _, c := range a.Choices {
			if _, dup := seen[c]; dup || !q.HasOption(c) {
				return answerErr(q.ID, ReasonInvalidOption, fmt.Sprintf("invalid option %q for question %q", c, q.Title))
			}
			seen[c] = struct{}{}
		}
	case q.Type.IsChoice():
		if a.Choice == nil {
			return mismatch(q)
		}
		if !q.HasOption(*a.Choice) {
			return answerErr(q.ID, ReasonInvalidOption, fmt.Sprintf("invalid option %q for question %q", *a.Choice, q.Title))
		}
	case q.Type == models.FileUpload:
		if a.FileRef == nil {
			return mismatch(q)
		}
	default:
		return mismatch(q)
	}
	return nil
}

// ValidateSubmission validates every answer of a submission against survey and
// reports all failures together, ordered by question order. Required questions
// absent from the submission are reported as missing.
func ValidateSubmission(survey *models.Survey, answers []*models.Answer) error {
	byQuestion := map[string][]*AnswerError{}
	var unknown []*AnswerError
	seen := map[string]bool{}

	for _, a := range answers {
		if a == nil {
			continue
		}
		q := survey.Question(a.QuestionID)
		if q == nil {
			unknown = append(unknown, answerErr(a.QuestionID, ReasonUnknownQuestion, fmt.Sprintf("invalid question id: %q", a.QuestionID)))
			continue
		}
		if seen[q.ID] {
			byQuestion[q.ID] = append(byQuestion[q.ID], answerErr(q.ID, ReasonDuplicateAnswer, fmt.Sprintf("question %q answered more than once", q.Title)))
			continue
		}
		seen[q.ID] = true
		if err := ValidateAnswer(q, a); err != nil {
			byQuestion[q.ID] = append(byQuestion[q.ID], err.(*AnswerError))
		}
	}

	var out ValidationErrors
	for _, q := range survey.OrderedQuestions() {
		if !seen[q.ID] && q.Required {
			out = append(out, answerErr(q.ID, ReasonRequiredAnswerMissing, fmt.Sprintf("question %q is required", q.Title)))
		}
		out = append(out, byQuestion[q.ID]...)
	}
	out = append(out, unknown...)
	if len(out) == 0 {
		return nil
	}
	return out
}

func mismatch(q *models.Question) *AnswerError {
	return answerErr(q.ID, ReasonTypeMismatch, fmt.Sprintf("invalid answer type for question %q", q.Title))
}

func populatedSlots(a *models.Answer) int {
	n := 0
	if a.Text != nil {
		n++
	}
	if a.Number != nil {
		n++
	}
	if a.Choice != nil {
		n++
	}
	if a.Choices != nil {
		n++
	}
	if a.FileRef != nil {
		n++
	}
	return n
}

func numericValue(q *models.Question, a *models.Answer) (float64, error) {
	switch {
	case a.Number != nil:
		if math.IsNaN(*a.Number) || math.IsInf(*a.Number, 0) {
			return 0, answerErr(q.ID, ReasonNotANumber, fmt.Sprintf("question %q requires a number", q.Title))
		}
		return *a.Number, nil
	case a.Text != nil:
		v, ok := parseNumber(*a.Text)
		if !ok {
			return 0, answerErr(q.ID, ReasonNotANumber, fmt.Sprintf("question %q requires a number", q.Title))
		}
		return v, nil
	default:
		return 0, mismatch(q)
	}
}

func parseNumber(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
