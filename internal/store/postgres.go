package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresDatabase stores every collection in the documents table as jsonb bodies.
// Unique constraints live in the migrations as partial expression indexes.
type PostgresDatabase struct {
	db *sql.DB
}

func NewPostgresDatabase(db *sql.DB) *PostgresDatabase {
	return &PostgresDatabase{db: db}
}

func (s *PostgresDatabase) DB() *sql.DB {
	return s.db
}

func (s *PostgresDatabase) Collection(name string) Collection {
	return &postgresCollection{db: s.db, name: name}
}

func (s *PostgresDatabase) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classifyPostgres("ping", err)
	}
	return nil
}

func (s *PostgresDatabase) Close(context.Context) error {
	return s.db.Close()
}

type postgresCollection struct {
	db   *sql.DB
	name string
}

func (c *postgresCollection) where(filter Filter) (string, []any, error) {
	clauses := []string{"collection = $1"}
	args := []any{c.name}
	for _, cond := range filter {
		if !fieldNamePattern.MatchString(cond.Field) {
			return "", nil, fmt.Errorf("invalid field name %q", cond.Field)
		}
		field := cond.Field
		switch cond.op {
		case opIRegex:
			args = append(args, cond.Value)
			clauses = append(clauses, fmt.Sprintf("body->>'%s' ~* $%d", field, len(args)))
		default:
			if cond.Value == nil {
				clauses = append(clauses, fmt.Sprintf("(body->'%s' IS NULL OR body->'%s' = 'null'::jsonb)", field, field))
				continue
			}
			raw, err := json.Marshal(cond.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value for %s: %w", field, err)
			}
			args = append(args, string(raw))
			clauses = append(clauses, fmt.Sprintf("body->'%s' = $%d::jsonb", field, len(args)))
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func orderClause(opts FindOptions) (string, error) {
	if opts.SortField == "" {
		return " ORDER BY seq", nil
	}
	if !fieldNamePattern.MatchString(opts.SortField) {
		return "", fmt.Errorf("invalid sort field %q", opts.SortField)
	}
	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}
	return fmt.Sprintf(" ORDER BY body->'%s' %s, seq %s", opts.SortField, direction, direction), nil
}

func (c *postgresCollection) FindOne(ctx context.Context, filter Filter, opts ...FindOption) (Doc, error) {
	docs, err := c.Find(ctx, filter, append(opts, Limit(1))...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

func (c *postgresCollection) Find(ctx context.Context, filter Filter, opts ...FindOption) ([]Doc, error) {
	where, args, err := c.where(filter)
	if err != nil {
		return nil, err
	}
	options := buildFindOptions(opts)
	order, err := orderClause(options)
	if err != nil {
		return nil, err
	}
	query := `SELECT body::text FROM documents WHERE ` + where + order
	if options.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", options.Limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyPostgres("find "+c.name, err)
	}
	defer rows.Close()

	var out []Doc
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, classifyPostgres("scan "+c.name, err)
		}
		doc := Doc{}
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("decode %s body: %w", c.name, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("iterate "+c.name, err)
	}
	return out, nil
}

func (c *postgresCollection) InsertOne(ctx context.Context, doc Doc) (string, error) {
	stored, err := canonicalDoc(doc)
	if err != nil {
		return "", err
	}
	if stored.ID() == "" {
		stored["_id"] = newDocumentID()
	}
	body, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode %s document: %w", c.name, err)
	}
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body)
		VALUES ($1, $2, $3::jsonb)
	`, c.name, stored.ID(), string(body)); err != nil {
		return "", classifyPostgres("insert "+c.name, err)
	}
	return stored.ID(), nil
}

func (c *postgresCollection) UpdateOne(ctx context.Context, filter Filter, set Doc) (int64, error) {
	patch, err := canonicalDoc(set)
	if err != nil {
		return 0, err
	}
	delete(patch, "_id")
	raw, err := json.Marshal(patch)
	if err != nil {
		return 0, fmt.Errorf("encode %s patch: %w", c.name, err)
	}
	where, args, err := c.where(filter)
	if err != nil {
		return 0, err
	}
	args = append(args, string(raw))
	query := fmt.Sprintf(`
		UPDATE documents SET body = body || $%d::jsonb, updated_at = NOW()
		WHERE collection = $1 AND id = (
			SELECT id FROM documents WHERE %s ORDER BY seq LIMIT 1
		)
	`, len(args), where)
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classifyPostgres("update "+c.name, err)
	}
	return res.RowsAffected()
}

func (c *postgresCollection) DeleteOne(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := c.where(filter)
	if err != nil {
		return 0, err
	}
	res, err := c.db.ExecContext(ctx, `
		DELETE FROM documents
		WHERE collection = $1 AND id = (
			SELECT id FROM documents WHERE `+where+` ORDER BY seq LIMIT 1
		)
	`, args...)
	if err != nil {
		return 0, classifyPostgres("delete "+c.name, err)
	}
	return res.RowsAffected()
}

func (c *postgresCollection) DeleteMany(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := c.where(filter)
	if err != nil {
		return 0, err
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE `+where, args...)
	if err != nil {
		return 0, classifyPostgres("delete "+c.name, err)
	}
	return res.RowsAffected()
}

func (c *postgresCollection) CountDocuments(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := c.where(filter)
	if err != nil {
		return 0, err
	}
	var count int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+where, args...).Scan(&count); err != nil {
		return 0, classifyPostgres("count "+c.name, err)
	}
	return count, nil
}

func classifyPostgres(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %s: %w", op, pgErr.ConstraintName, ErrDuplicateKey)
	}
	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		pgconn.Timeout(err),
		errors.As(err, &connectErr),
		errors.As(err, &netErr):
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
