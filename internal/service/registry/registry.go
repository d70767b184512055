package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"vsoportal/internal/models"
	"vsoportal/internal/storage"
)

var clientColumns = []string{
	"id", "voornaam", "achternaam", "aanhef", "referentienummer", "email",
	"adres", "postcode", "woonplaats", "werkgever", "created_at",
}

// Service stores and looks up client records.
type Service struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// NewService builds the registry over db using the placeholder style of driver.
func NewService(db *sql.DB, driver string) *Service {
	return &Service{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(storage.Placeholder(driver)),
		now: time.Now,
	}
}

// List returns every client, newest first.
func (s *Service) List(ctx context.Context) ([]models.Client, error) {
	query, args, err := s.sb.Select(clientColumns...).
		From("clients").
		OrderBy("created_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}
	return s.queryClients(ctx, query, args)
}

// GetByID returns the client or sql.ErrNoRows.
func (s *Service) GetByID(ctx context.Context, id string) (*models.Client, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, sql.ErrNoRows
	}
	query, args, err := s.sb.Select(clientColumns...).
		From("clients").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}
	client, err := scanClient(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return client, nil
}

// Create validates the form and stores the resulting client.
func (s *Service) Create(ctx context.Context, form models.ClientFormData) (*models.Client, error) {
	client, err := validateForm(&form)
	if err != nil {
		return nil, err
	}
	client.ID = uuid.NewString()
	client.CreatedAt = s.now().UTC().Truncate(time.Microsecond)

	employer, err := json.Marshal(client.Employer)
	if err != nil {
		return nil, fmt.Errorf("encode employer: %w", err)
	}
	query, args, err := s.sb.Insert("clients").
		Columns(append(clientColumns[:len(clientColumns):len(clientColumns)], "werkgever_naam")...).
		Values(
			client.ID,
			client.FirstName,
			client.LastName,
			client.Salutation,
			client.ReferenceNumber,
			client.Email,
			client.Address,
			client.Postcode,
			client.City,
			string(employer),
			client.CreatedAt,
			client.Employer.Name,
		).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return client, nil
}

// Delete removes the client or returns sql.ErrNoRows.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return sql.ErrNoRows
	}
	query, args, err := s.sb.Delete("clients").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Search returns one page of the overview, filtered and sorted.
func (s *Service) Search(ctx context.Context, q Query) (*Page, error) {
	q = q.normalized()

	countSQL, countArgs, err := q.filter(s.sb.Select("COUNT(*)").From("clients")).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count clients: %w", err)
	}

	page := &Page{
		Clients:    []models.Client{},
		Total:      total,
		Page:       q.Page,
		PageSize:   PageSize,
		TotalPages: (total + PageSize - 1) / PageSize,
	}
	if total == 0 {
		return page, nil
	}

	query, args, err := q.order(q.filter(s.sb.Select(clientColumns...).From("clients"))).
		Limit(PageSize).
		Offset(uint64((q.Page - 1) * PageSize)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}
	clients, err := s.queryClients(ctx, query, args)
	if err != nil {
		return nil, err
	}
	page.Clients = clients
	return page, nil
}

func (s *Service) queryClients(ctx context.Context, query string, args []any) ([]models.Client, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	clients := []models.Client{}
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, *client)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return clients, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var (
		c        models.Client
		employer []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.FirstName,
		&c.LastName,
		&c.Salutation,
		&c.ReferenceNumber,
		&c.Email,
		&c.Address,
		&c.Postcode,
		&c.City,
		&employer,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(employer) > 0 {
		if err := json.Unmarshal(employer, &c.Employer); err != nil {
			return nil, fmt.Errorf("decode employer: %w", err)
		}
	}
	return &c, nil
}
