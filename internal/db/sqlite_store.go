package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ckdtjq0011/saas-survey/internal/api"
	"github.com/ckdtjq0011/saas-survey/internal/models"
	"github.com/ckdtjq0011/saas-survey/internal/services"
)

type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens a SQLite database file. Transactions start with BEGIN IMMEDIATE
// so the response-limit check and the insert happen under the write lock.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path required")
	}
	dsn := "file:" + path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	return sql.Open("sqlite3", dsn)
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db, log: slog.Default().With("component", "sqlite_store")}, nil
}

func NewStore(db *sql.DB) (api.Store, error) {
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) logErr(prefix string, err error) {
	if err != nil {
		s.log.Error("sqlite store: "+prefix, "err", err)
	}
}

func boolToInt64(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func int64ToBool(v int64) bool { return v != 0 }

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ptrToNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func encodeJSON(v []string) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *SQLiteStore) decodeStrings(ns sql.NullString) []string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		s.logErr("decode string slice", err)
		return nil
	}
	return out
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s begin: %w", name, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if err = tx.Commit(); err != nil {
			s.logErr(name+" commit", err)
		}
	}()
	return fn(tx)
}

// --- Users ---

func (s *SQLiteStore) InsertUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users(id, email, pass_hash, created_at) VALUES(?, ?, ?, ?)",
		u.ID, u.Email, u.PassHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return services.NewConflictError("email exists")
	}
	return err
}

func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, pass_hash, created_at FROM users WHERE email = ?", email).
		Scan(&u.ID, &u.Email, &u.PassHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Surveys & questions ---

const surveyColumns = `id, owner_id, title, description, created_at, updated_at, is_active,
accepts_responses, requires_login, limit_one, deadline, max_responses, share_token`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSurvey(row rowScanner) (*models.Survey, error) {
	var (
		sv                                 models.Survey
		active, accepting, login, limitOne int64
		deadline                           sql.NullTime
		maxResponses                       int64
	)
	err := row.Scan(&sv.ID, &sv.OwnerID, &sv.Title, &sv.Description, &sv.CreatedAt, &sv.UpdatedAt,
		&active, &accepting, &login, &limitOne, &deadline, &maxResponses, &sv.ShareToken)
	if err != nil {
		return nil, err
	}
	sv.IsActive = int64ToBool(active)
	sv.AcceptsResponses = int64ToBool(accepting)
	sv.RequiresLogin = int64ToBool(login)
	sv.LimitOneResponsePerRespondent = int64ToBool(limitOne)
	if deadline.Valid {
		d := deadline.Time.UTC()
		sv.Deadline = &d
	}
	sv.MaxResponses = int(maxResponses)
	return &sv, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (s *SQLiteStore) InsertSurvey(ctx context.Context, sv *models.Survey) error {
	return s.withTx(ctx, "InsertSurvey", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO surveys("+surveyColumns+") VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
			sv.ID, sv.OwnerID, sv.Title, sv.Description, sv.CreatedAt, sv.UpdatedAt,
			boolToInt64(sv.IsActive), boolToInt64(sv.AcceptsResponses), boolToInt64(sv.RequiresLogin),
			boolToInt64(sv.LimitOneResponsePerRespondent), nullTime(sv.Deadline), sv.MaxResponses, sv.ShareToken)
		if err != nil {
			if isUniqueViolation(err) {
				return services.NewConflictError("survey exists")
			}
			return err
		}
		for _, q := range sv.Questions {
			if err := insertQuestion(ctx, tx, q); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) UpdateSurvey(ctx context.Context, sv *models.Survey) error {
	res, err := s.db.ExecContext(ctx, `UPDATE surveys SET title = ?, description = ?, updated_at = ?, is_active = ?,
accepts_responses = ?, requires_login = ?, limit_one = ?, deadline = ?, max_responses = ? WHERE id = ?`,
		sv.Title, sv.Description, sv.UpdatedAt, boolToInt64(sv.IsActive), boolToInt64(sv.AcceptsResponses),
		boolToInt64(sv.RequiresLogin), boolToInt64(sv.LimitOneResponsePerRespondent), nullTime(sv.Deadline),
		sv.MaxResponses, sv.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.ErrSurveyNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteSurvey(ctx context.Context, id string) error {
	return s.withTx(ctx, "DeleteSurvey", func(tx *sql.Tx) error {
		stmts := []string{
			"DELETE FROM answers WHERE response_id IN (SELECT id FROM responses WHERE survey_id = ?)",
			"DELETE FROM responses WHERE survey_id = ?",
			"DELETE FROM questions WHERE survey_id = ?",
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM surveys WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.ErrSurveyNotFound
		}
		return nil
	})
}

func (s *SQLiteStore) GetSurvey(ctx context.Context, id string) (*models.Survey, error) {
	return s.loadSurvey(ctx, "SELECT "+surveyColumns+" FROM surveys WHERE id = ?", id)
}

func (s *SQLiteStore) GetSurveyByShareToken(ctx context.Context, token string) (*models.Survey, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	return s.loadSurvey(ctx, "SELECT "+surveyColumns+" FROM surveys WHERE share_token = ?", token)
}

func (s *SQLiteStore) loadSurvey(ctx context.Context, query, arg string) (*models.Survey, error) {
	sv, err := scanSurvey(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sv.Questions, err = s.listQuestions(ctx, sv.ID); err != nil {
		return nil, err
	}
	return sv, nil
}

func (s *SQLiteStore) ListSurveysByOwner(ctx context.Context, ownerID string) ([]*models.Survey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+surveyColumns+" FROM surveys WHERE owner_id = ? ORDER BY created_at DESC, id ASC", ownerID)
	if err != nil {
		return nil, err
	}
	var out []*models.Survey
	for rows.Next() {
		sv, err := scanSurvey(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, sv)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	s.logErr("ListSurveysByOwner rows close", rows.Close())
	for _, sv := range out {
		if sv.Questions, err = s.listQuestions(ctx, sv.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func insertQuestion(ctx context.Context, tx *sql.Tx, q *models.Question) error {
	opts, err := encodeJSON(q.Options)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO questions(id, survey_id, type, title, required, options_json, position, min_value, max_value)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.SurveyID, string(q.Type), q.Title, boolToInt64(q.Required), opts, q.Order, q.Min, q.Max)
	return err
}

func (s *SQLiteStore) InsertQuestion(ctx context.Context, q *models.Question) error {
	return s.withTx(ctx, "InsertQuestion", func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM surveys WHERE id = ?", q.SurveyID).Scan(&n); err != nil {
			return err
		}
		if n == 0 {
			return services.ErrSurveyNotFound
		}
		return insertQuestion(ctx, tx, q)
	})
}

func (s *SQLiteStore) ReorderQuestions(ctx context.Context, surveyID string, order []string) error {
	return s.withTx(ctx, "ReorderQuestions", func(tx *sql.Tx) error {
		for pos, id := range order {
			if _, err := tx.ExecContext(ctx, "UPDATE questions SET position = ? WHERE id = ? AND survey_id = ?", pos, id, surveyID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) listQuestions(ctx context.Context, surveyID string) ([]*models.Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, survey_id, type, title, required, options_json, position, min_value, max_value
FROM questions WHERE survey_id = ? ORDER BY position ASC, rowid ASC`, surveyID)
	if err != nil {
		return nil, err
	}
	defer func() { s.logErr("listQuestions rows close", rows.Close()) }()
	var out []*models.Question
	for rows.Next() {
		var (
			q        models.Question
			qt       string
			required int64
			opts     sql.NullString
		)
		if err := rows.Scan(&q.ID, &q.SurveyID, &qt, &q.Title, &required, &opts, &q.Order, &q.Min, &q.Max); err != nil {
			return nil, err
		}
		q.Type = models.QuestionType(qt)
		q.Required = int64ToBool(required)
		q.Options = s.decodeStrings(opts)
		out = append(out, &q)
	}
	return out, rows.Err()
}

// --- Responses & answers ---

func (s *SQLiteStore) CountResponses(ctx context.Context, surveyID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM responses WHERE survey_id = ?", surveyID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) FindResponseByRespondent(ctx context.Context, surveyID, key string) (*models.Response, error) {
	if key == "" {
		return nil, nil
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM responses WHERE survey_id = ? AND respondent_key = ? ORDER BY submitted_at ASC LIMIT 1",
		surveyID, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetResponse(ctx, id)
}

// InsertResponse writes the response row and its answers in one transaction.
// The count check runs inside the same transaction, which holds the database
// write lock from its first statement.
func (s *SQLiteStore) InsertResponse(ctx context.Context, r *models.Response, maxResponses int) error {
	return s.withTx(ctx, "InsertResponse", func(tx *sql.Tx) error {
		if maxResponses > 0 {
			var n int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM responses WHERE survey_id = ?", r.SurveyID).Scan(&n); err != nil {
				return err
			}
			if n >= maxResponses {
				return services.ErrResponseLimitReached
			}
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO responses(id, survey_id, respondent_id, respondent_email, respondent_key,
dedupe_key, submitted_at, ip_address, user_agent) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.SurveyID, toNullString(r.RespondentID), toNullString(r.RespondentEmail),
			toNullString(r.Respondent().Key()), toNullString(r.DedupeKey), r.SubmittedAt,
			toNullString(r.IPAddress), toNullString(r.UserAgent))
		if err != nil {
			if isUniqueViolation(err) && r.DedupeKey != "" {
				return services.ErrDuplicateResponse
			}
			return err
		}
		for _, a := range r.Answers {
			choices, err := encodeJSON(a.Choices)
			if err != nil {
				return err
			}
			var num sql.NullFloat64
			if a.Number != nil {
				num = sql.NullFloat64{Float64: *a.Number, Valid: true}
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO answers(id, response_id, question_id, text_value, number_value,
choice_value, choices_json, file_ref) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
				a.ID, r.ID, a.QuestionID, ptrToNullString(a.Text), num, ptrToNullString(a.Choice), choices, ptrToNullString(a.FileRef))
			if err != nil {
				return fmt.Errorf("insert answer %s: %w", a.QuestionID, err)
			}
		}
		return nil
	})
}

const responseColumns = `id, survey_id, respondent_id, respondent_email, dedupe_key, submitted_at, ip_address, user_agent`

func scanResponse(row rowScanner) (*models.Response, error) {
	var (
		r                                 models.Response
		uid, email, dedupe, ip, userAgent sql.NullString
	)
	if err := row.Scan(&r.ID, &r.SurveyID, &uid, &email, &dedupe, &r.SubmittedAt, &ip, &userAgent); err != nil {
		return nil, err
	}
	r.SubmittedAt = r.SubmittedAt.UTC()
	r.RespondentID = uid.String
	r.RespondentEmail = email.String
	r.DedupeKey = dedupe.String
	r.IPAddress = ip.String
	r.UserAgent = userAgent.String
	return &r, nil
}

func (s *SQLiteStore) GetResponse(ctx context.Context, id string) (*models.Response, error) {
	r, err := scanResponse(s.db.QueryRowContext(ctx, "SELECT "+responseColumns+" FROM responses WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	answers, err := s.queryAnswers(ctx, "SELECT "+answerColumns+" FROM answers WHERE response_id = ? ORDER BY rowid ASC", id)
	if err != nil {
		return nil, err
	}
	r.Answers = answers[id]
	return r, nil
}

func (s *SQLiteStore) ListResponses(ctx context.Context, surveyID string) ([]*models.Response, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+responseColumns+" FROM responses WHERE survey_id = ? ORDER BY submitted_at ASC, rowid ASC", surveyID)
	if err != nil {
		return nil, err
	}
	var out []*models.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	s.logErr("ListResponses rows close", rows.Close())

	answers, err := s.queryAnswers(ctx, `SELECT a.id, a.response_id, a.question_id, a.text_value, a.number_value, a.choice_value,
a.choices_json, a.file_ref FROM answers a JOIN responses r ON r.id = a.response_id WHERE r.survey_id = ? ORDER BY a.rowid ASC`, surveyID)
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		r.Answers = answers[r.ID]
	}
	return out, nil
}

func (s *SQLiteStore) DeleteResponse(ctx context.Context, id string) error {
	return s.withTx(ctx, "DeleteResponse", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM answers WHERE response_id = ?", id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM responses WHERE id = ?", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return services.NewNotFoundError("response not found")
		}
		return nil
	})
}

const answerColumns = `id, response_id, question_id, text_value, number_value, choice_value, choices_json, file_ref`

// queryAnswers groups answer rows by response id.
func (s *SQLiteStore) queryAnswers(ctx context.Context, query string, args ...any) (map[string][]*models.Answer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { s.logErr("queryAnswers rows close", rows.Close()) }()
	out := map[string][]*models.Answer{}
	for rows.Next() {
		var (
			a                          models.Answer
			text, choice, choices, ref sql.NullString
			num                        sql.NullFloat64
		)
		if err := rows.Scan(&a.ID, &a.ResponseID, &a.QuestionID, &text, &num, &choice, &choices, &ref); err != nil {
			return nil, err
		}
		a.Text = nullStringPtr(text)
		if num.Valid {
			v := num.Float64
			a.Number = &v
		}
		a.Choice = nullStringPtr(choice)
		a.Choices = s.decodeStrings(choices)
		a.FileRef = nullStringPtr(ref)
		out[a.ResponseID] = append(out[a.ResponseID], &a)
	}
	return out, rows.Err()
}
