package chat

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store over PostgreSQL.
//
// Notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Chat membership is a BIGINT[] column with a GIN index; ChatsOf uses = ANY.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "parley").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("chat: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "parley"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("chat: nil pool")
	}
	return st, nil
}

// Migrate creates the schema and tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{s.schema}.Sanitize())
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("chat.Migrate: %w", err)
	}
	return nil
}

const accountColumns = `id, username, email_address, first_name, last_name, bio, verified, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Username, &a.EmailAddress, &a.FirstName, &a.LastName, &a.Bio, &a.Verified, &a.CreatedAt)
	return a, err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a Account) (Account, error) {
	const op = "chat.PostgresStore.CreateAccount"

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("accounts")+` (username, email_address, first_name, last_name, bio, verified)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+accountColumns,
		a.Username, a.EmailAddress, a.FirstName, a.LastName, a.Bio, a.Verified,
	)
	out, err := scanAccount(row)
	if err != nil {
		return Account{}, pgMapErr(op, err, "account", 0)
	}
	return out, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, a Account) error {
	const op = "chat.PostgresStore.UpdateAccount"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("accounts")+`
		    SET username = $2, email_address = $3, first_name = $4, last_name = $5, bio = $6, verified = $7
		  WHERE id = $1`,
		a.ID, a.Username, a.EmailAddress, a.FirstName, a.LastName, a.Bio, a.Verified,
	)
	if err != nil {
		return pgMapErr(op, err, "account", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account", ID: a.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "chat.PostgresStore.DeleteAccount", "accounts", "account", id)
}

func (s *PostgresStore) Account(ctx context.Context, id int64) (Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM `+s.table("accounts")+` WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return Account{}, pgMapErr("chat.PostgresStore.Account", err, "account", id)
	}
	return a, nil
}

func (s *PostgresStore) AccountByUsername(ctx context.Context, username string) (Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM `+s.table("accounts")+` WHERE username = $1`, username)
	a, err := scanAccount(row)
	if err != nil {
		return Account{}, pgMapErr("chat.PostgresStore.AccountByUsername", err, "account", 0)
	}
	return a, nil
}

func (s *PostgresStore) Accounts(ctx context.Context) ([]Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM `+s.table("accounts")+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("chat.PostgresStore.Accounts: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Account, error) { return scanAccount(r) })
	if err != nil {
		return nil, fmt.Errorf("chat.PostgresStore.Accounts: %w", err)
	}
	return nonNil(out), nil
}

const chatColumns = `id, kind, title, description, is_public, members, admins, created_at`

func scanChat(row pgx.Row) (Chat, error) {
	var (
		c    Chat
		kind string
	)
	err := row.Scan(&c.ID, &kind, &c.Title, &c.Description, &c.IsPublic, &c.Members, &c.Admins, &c.CreatedAt)
	c.Kind = ChatKind(kind)
	return c, err
}

func (s *PostgresStore) CreateChat(ctx context.Context, c Chat) (Chat, error) {
	const op = "chat.PostgresStore.CreateChat"

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("chats")+` (kind, title, description, is_public, members, admins)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+chatColumns,
		string(c.Kind), c.Title, c.Description, c.IsPublic, nonNil(c.Members), nonNil(c.Admins),
	)
	out, err := scanChat(row)
	if err != nil {
		return Chat{}, pgMapErr(op, err, "chat", 0)
	}
	return out, nil
}

func (s *PostgresStore) UpdateChat(ctx context.Context, c Chat) error {
	const op = "chat.PostgresStore.UpdateChat"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("chats")+`
		    SET title = $2, description = $3, is_public = $4, members = $5, admins = $6
		  WHERE id = $1`,
		c.ID, c.Title, c.Description, c.IsPublic, nonNil(c.Members), nonNil(c.Admins),
	)
	if err != nil {
		return pgMapErr(op, err, "chat", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "chat", ID: c.ID}
	}
	return nil
}

// DeleteChat relies on ON DELETE CASCADE for messages.
func (s *PostgresStore) DeleteChat(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "chat.PostgresStore.DeleteChat", "chats", "chat", id)
}

func (s *PostgresStore) Chat(ctx context.Context, id int64) (Chat, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM `+s.table("chats")+` WHERE id = $1`, id)
	c, err := scanChat(row)
	if err != nil {
		return Chat{}, pgMapErr("chat.PostgresStore.Chat", err, "chat", id)
	}
	return c, nil
}

func (s *PostgresStore) ChatsOf(ctx context.Context, memberID int64) ([]Chat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chatColumns+` FROM `+s.table("chats")+` WHERE $1 = ANY(members) ORDER BY id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("chat.PostgresStore.ChatsOf: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Chat, error) { return scanChat(r) })
	if err != nil {
		return nil, fmt.Errorf("chat.PostgresStore.ChatsOf: %w", err)
	}
	return nonNil(out), nil
}

const messageColumns = `id, chat_id, sender_id, text, edited, created_at`

func scanMessage(row pgx.Row) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Edited, &m.CreatedAt)
	return m, err
}

func (s *PostgresStore) CreateMessage(ctx context.Context, m Message) (Message, error) {
	const op = "chat.PostgresStore.CreateMessage"

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table("messages")+` (chat_id, sender_id, text, edited)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+messageColumns,
		m.ChatID, m.SenderID, m.Text, m.Edited,
	)
	out, err := scanMessage(row)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return Message{}, NotFoundError{Op: op, Resource: "chat", ID: m.ChatID}
		}
		return Message{}, pgMapErr(op, err, "message", 0)
	}
	return out, nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, m Message) error {
	const op = "chat.PostgresStore.UpdateMessage"

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("messages")+` SET text = $2, edited = $3 WHERE id = $1`,
		m.ID, m.Text, m.Edited,
	)
	if err != nil {
		return pgMapErr(op, err, "message", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "message", ID: m.ID}
	}
	return nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "chat.PostgresStore.DeleteMessage", "messages", "message", id)
}

func (s *PostgresStore) Message(ctx context.Context, id int64) (Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM `+s.table("messages")+` WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return Message{}, pgMapErr("chat.PostgresStore.Message", err, "message", id)
	}
	return m, nil
}

func (s *PostgresStore) Messages(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM `+s.table("messages")+` WHERE chat_id = $1 ORDER BY id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chat.PostgresStore.Messages: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Message, error) { return scanMessage(r) })
	if err != nil {
		return nil, fmt.Errorf("chat.PostgresStore.Messages: %w", err)
	}
	return nonNil(out), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close is a no-op; the caller owns the pool.
func (s *PostgresStore) Close() error { return nil }

func (s *PostgresStore) deleteByID(ctx context.Context, op, table, resource string, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table(table)+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: resource, ID: id}
	}
	return nil
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pgMapErr(op string, err error, resource string, id int64) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFoundError{Op: op, Resource: resource, ID: id}
	}
	if field, ok := pgClassifyUniqueViolation(err); ok {
		return ConflictError{Op: op, Field: field}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}
	switch strings.ToLower(pgErr.ConstraintName) {
	case "uq_accounts_username":
		return "username", true
	case "uq_accounts_email_address":
		return "email_address", true
	}
	return "", true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
