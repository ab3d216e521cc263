package postgres

import (
	"context"

	"loaner-backend/internal/domain"
	"loaner-backend/internal/repository"
)

type personRepository struct {
	db dbtx
}

func NewPersonRepository(db dbtx) repository.PersonRepository {
	return &personRepository{db: db}
}

func (r *personRepository) GetByID(ctx context.Context, id string) (*domain.Person, error) {
	p := &domain.Person{}
	query := `SELECT id, first_name, last_name, email, grade, parent_email, active FROM people WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Grade, &p.ParentEmail, &p.Active)
	if err != nil {
		return nil, notFound(err, domain.ErrPersonNotFound)
	}
	return p, nil
}

func (r *personRepository) Upsert(ctx context.Context, p *domain.Person) error {
	query := `INSERT INTO people (id, first_name, last_name, email, grade, parent_email, active)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (id) DO UPDATE SET first_name = EXCLUDED.first_name, last_name = EXCLUDED.last_name,
	          email = EXCLUDED.email, grade = EXCLUDED.grade, parent_email = EXCLUDED.parent_email, active = EXCLUDED.active`
	_, err := r.db.ExecContext(ctx, query, p.ID, p.FirstName, p.LastName, p.Email, p.Grade, p.ParentEmail, p.Active)
	return err
}
