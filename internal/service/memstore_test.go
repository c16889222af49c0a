package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/approvals-api/internal/models"
	"github.com/noah-isme/approvals-api/internal/repository"
)

// memDB is an in-memory stand-in for the request, user and student tables. mu plays the
// role of the row locks: a transaction holds it from begin to commit.
type memDB struct {
	mu       sync.Mutex
	requests map[string]*models.Request
	users    map[string]*models.User
	students map[string]*models.Student
	clock    time.Time

	listErr   error
	createErr error
	commitErr error

	userCreates int
	userUpdates int
	lookups     int
}

func newMemDB() *memDB {
	return &memDB{
		requests: make(map[string]*models.Request),
		users:    make(map[string]*models.User),
		students: make(map[string]*models.Student),
		clock:    time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
}

func (db *memDB) addUser(user models.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	copied := user
	db.users[user.ID] = &copied
}

func (db *memDB) user(id string) *models.User {
	db.mu.Lock()
	defer db.mu.Unlock()
	user, ok := db.users[id]
	if !ok {
		return nil
	}
	copied := *user
	return &copied
}

func (db *memDB) request(id string) *models.Request {
	db.mu.Lock()
	defer db.mu.Unlock()
	req, ok := db.requests[id]
	if !ok {
		return nil
	}
	copied := *req
	return &copied
}

func (db *memDB) addStudent(student models.Student) {
	db.mu.Lock()
	defer db.mu.Unlock()
	copied := student
	db.students[student.ID] = &copied
}

func (db *memDB) student(id string) *models.Student {
	db.mu.Lock()
	defer db.mu.Unlock()
	student, ok := db.students[id]
	if !ok {
		return nil
	}
	copied := *student
	return &copied
}

func (db *memDB) userCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.users)
}

// WithinTx serialises transactions and restores the previous state on error.
func (db *memDB) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	requests := make(map[string]*models.Request, len(db.requests))
	for id, req := range db.requests {
		copied := *req
		requests[id] = &copied
	}
	users := make(map[string]*models.User, len(db.users))
	for id, user := range db.users {
		copied := *user
		users[id] = &copied
	}
	students := make(map[string]*models.Student, len(db.students))
	for id, student := range db.students {
		copied := *student
		students[id] = &copied
	}
	creates, updates := db.userCreates, db.userUpdates

	err := fn(nil)
	if err == nil && db.commitErr != nil {
		err = db.commitErr
	}
	if err != nil {
		db.requests, db.users, db.students = requests, users, students
		db.userCreates, db.userUpdates = creates, updates
		return err
	}
	return nil
}

type memRequests struct{ db *memDB }

func (r memRequests) Create(ctx context.Context, req *models.Request) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.createErr != nil {
		return r.db.createErr
	}
	r.db.clock = r.db.clock.Add(time.Second)
	req.CreatedAt = r.db.clock
	req.Status = models.RequestStatusPending
	copied := *req
	r.db.requests[req.ID] = &copied
	return nil
}

func (r memRequests) GetByID(ctx context.Context, id string) (*models.Request, error) {
	r.db.mu.Lock()
	r.db.lookups++
	r.db.mu.Unlock()
	if req := r.db.request(id); req != nil {
		return req, nil
	}
	return nil, sql.ErrNoRows
}

func (r memRequests) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Request, error) {
	r.db.lookups++
	req, ok := r.db.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *req
	return &copied, nil
}

func (r memRequests) ListPending(ctx context.Context) ([]models.PendingRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.listErr != nil {
		return nil, r.db.listErr
	}
	items := make([]models.PendingRequest, 0)
	for _, req := range r.db.requests {
		if req.Status != models.RequestStatusPending {
			continue
		}
		item := models.PendingRequest{Request: *req}
		if req.SubmitterID != nil {
			if user, ok := r.db.users[*req.SubmitterID]; ok {
				name := user.Username
				item.SubmitterUsername = &name
			}
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r memRequests) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.listErr != nil {
		return nil, r.db.listErr
	}
	items := make([]models.Request, 0)
	for _, req := range r.db.requests {
		if filter.SubmitterID != "" && (req.SubmitterID == nil || *req.SubmitterID != filter.SubmitterID) {
			continue
		}
		items = append(items, *req)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (r memRequests) MarkDecided(ctx context.Context, exec sqlx.ExtContext, params repository.DecisionParams) error {
	req, ok := r.db.requests[params.ID]
	if !ok || req.Status != models.RequestStatusPending {
		return sql.ErrNoRows
	}
	req.Status = params.Status
	req.DecidedBy = &params.DecidedBy
	decidedAt := params.DecidedAt
	req.DecidedAt = &decidedAt
	req.EntityID = params.EntityID
	req.Note = params.Note
	return nil
}

type memUsers struct{ db *memDB }

func (u memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user := u.db.user(id); user != nil {
		return user, nil
	}
	return nil, sql.ErrNoRows
}

func (u memUsers) FindByUsernameWith(ctx context.Context, exec sqlx.ExtContext, username string) (*models.User, error) {
	for _, user := range u.db.users {
		if user.Username == username {
			copied := *user
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (u memUsers) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.User, error) {
	user, ok := u.db.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *user
	return &copied, nil
}

func (u memUsers) CreateWith(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	if err := u.checkUnique(user); err != nil {
		return err
	}
	if user.ID == "" {
		user.ID = fmt.Sprintf("user-%d", len(u.db.users)+100)
	}
	copied := *user
	u.db.users[user.ID] = &copied
	u.db.userCreates++
	return nil
}

func (u memUsers) UpdateWith(ctx context.Context, exec sqlx.ExtContext, user *models.User) error {
	if _, ok := u.db.users[user.ID]; !ok {
		return sql.ErrNoRows
	}
	if err := u.checkUnique(user); err != nil {
		return err
	}
	copied := *user
	u.db.users[user.ID] = &copied
	u.db.userUpdates++
	return nil
}

func (u memUsers) checkUnique(candidate *models.User) error {
	for id, user := range u.db.users {
		if id == candidate.ID {
			continue
		}
		if user.Username == candidate.Username {
			return fmt.Errorf("insert user: %w", &pq.Error{Code: "23505", Constraint: "users_username_key"})
		}
		if user.Email != nil && candidate.Email != nil && *user.Email == *candidate.Email {
			return fmt.Errorf("insert user: %w", &pq.Error{Code: "23505", Constraint: "users_email_key"})
		}
	}
	return nil
}

type memStudents struct{ db *memDB }

func (m memStudents) LockByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Student, error) {
	student, ok := m.db.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *student
	return &copied, nil
}

func (m memStudents) CreateWith(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if err := m.checkUnique(student); err != nil {
		return err
	}
	if student.ID == "" {
		student.ID = fmt.Sprintf("00000000-0000-4000-8000-%012d", len(m.db.students)+1)
	}
	copied := *student
	m.db.students[student.ID] = &copied
	return nil
}

func (m memStudents) UpdateWith(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if _, ok := m.db.students[student.ID]; !ok {
		return sql.ErrNoRows
	}
	if err := m.checkUnique(student); err != nil {
		return err
	}
	copied := *student
	m.db.students[student.ID] = &copied
	return nil
}

func (m memStudents) DeleteWith(ctx context.Context, exec sqlx.ExtContext, id string) error {
	if _, ok := m.db.students[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.db.students, id)
	return nil
}

func (m memStudents) checkUnique(candidate *models.Student) error {
	for id, student := range m.db.students {
		if id != candidate.ID && student.Email == candidate.Email {
			return fmt.Errorf("insert student: %w", &pq.Error{Code: "23505", Constraint: "students_email_key"})
		}
	}
	return nil
}

type auditRecorderStub struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (a *auditRecorderStub) Record(entry *models.AuditLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *auditRecorderStub) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	actions := make([]string, len(a.entries))
	for i, entry := range a.entries {
		actions[i] = entry.Action
	}
	return actions
}
