package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"userchat/internal/metrics"
	"userchat/internal/models"
)

const selectAllUsers = "SELECT * FROM users"

// SeedUsers is the fixed sample set written on every start.
var SeedUsers = []models.User{
	{Firstname: "John", Surname: "Smith", Email: "john.smith@email.com"},
	{Firstname: "Emma", Surname: "Johnson", Email: "emma.j@email.com"},
	{Firstname: "Michael", Surname: "Williams", Email: "m.williams@email.com"},
	{Firstname: "Sarah", Surname: "Brown", Email: "sarah.brown@email.com"},
	{Firstname: "David", Surname: "Jones", Email: "david.jones@email.com"},
	{Firstname: "Lisa", Surname: "Garcia", Email: "l.garcia@email.com"},
	{Firstname: "James", Surname: "Miller", Email: "james.m@email.com"},
	{Firstname: "Maria", Surname: "Davis", Email: "maria.davis@email.com"},
	{Firstname: "Robert", Surname: "Anderson", Email: "r.anderson@email.com"},
	{Firstname: "Jennifer", Surname: "Taylor", Email: "jen.taylor@email.com"},
}

// UserStore serves the seeded users table. One store is built at startup
// and handed to whoever needs it.
type UserStore struct {
	db     *sql.DB
	driver string
	log    zerolog.Logger
}

// NewUserStore wraps an open database handle.
func NewUserStore(db *sql.DB, driver string, log zerolog.Logger) *UserStore {
	return &UserStore{
		db:     db,
		driver: strings.ToLower(driver),
		log:    log.With().Str("component", "user-store").Logger(),
	}
}

// Init creates the table and seeds it. Failures are logged, never returned.
func (s *UserStore) Init(ctx context.Context) {
	if err := Migrate(s.db, s.driver); err != nil {
		s.log.Error().Err(err).Msg("error initializing database")
		return
	}
	s.Seed(ctx)
}

// Seed upserts the sample users keyed by email in one transaction. Running it
// again leaves ids untouched. Failures are logged, never returned.
func (s *UserStore) Seed(ctx context.Context) {
	if err := s.seed(ctx); err != nil {
		s.log.Error().Err(err).Msg("error initializing database")
		return
	}
	s.log.Debug().Int("users", len(SeedUsers)).Msg("users seeded")
}

func (s *UserStore) seed(ctx context.Context) (err error) {
	stmt, err := s.upsertStatement()
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, u := range SeedUsers {
		if _, err = tx.ExecContext(ctx, stmt, u.Firstname, u.Surname, u.Email); err != nil {
			return fmt.Errorf("upsert user %s: %w", u.Email, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func (s *UserStore) upsertStatement() (string, error) {
	switch s.driver {
	case "sqlite", "sqlite3":
		return `INSERT INTO users (firstname, surname, email) VALUES (?, ?, ?)
			ON CONFLICT(email) DO UPDATE SET firstname = excluded.firstname, surname = excluded.surname`, nil
	case "mysql":
		return `INSERT INTO users (firstname, surname, email) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE firstname = VALUES(firstname), surname = VALUES(surname)`, nil
	default:
		return "", fmt.Errorf("unsupported driver for seeding: %s", s.driver)
	}
}

// Query executes query verbatim and returns each row keyed by column name.
// No statement filtering happens here.
func (s *UserStore) Query(ctx context.Context, query string) ([]models.Row, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	result := make([]models.Row, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(models.Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// RunQuery is Query with errors folded into the result: a failing statement
// yields a single {"error": ...} row instead of an error.
func (s *UserStore) RunQuery(ctx context.Context, query string) []models.Row {
	rows, err := s.Query(ctx, query)
	if err != nil {
		metrics.StoreQueryErrors.Inc()
		s.log.Error().Err(err).Str("query", query).Msg("database error")
		return []models.Row{models.ErrorRow(err)}
	}
	return rows
}

// GetAllUsers returns every column of every user.
func (s *UserStore) GetAllUsers(ctx context.Context) []models.Row {
	return s.RunQuery(ctx, selectAllUsers)
}

// ListUsers is the typed read used by the HTTP and CLI hosts.
func (s *UserStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, firstname, surname, email FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Firstname, &u.Surname, &u.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
