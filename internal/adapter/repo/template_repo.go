package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pixelmint/internal/domain"
)

// TemplateRepositoryPG implements domain.TemplateRepository.
type TemplateRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewTemplateRepository creates a template repository backed by PostgreSQL.
func NewTemplateRepository(pool *pgxpool.Pool) *TemplateRepositoryPG {
	return &TemplateRepositoryPG{pool: pool}
}

// GetByID fetches a prompt template; missing templates surface as
// domain.ErrNotFound, which prompt resolution treats as "try next".
func (r *TemplateRepositoryPG) GetByID(ctx context.Context, id string) (*domain.PromptTemplate, error) {
	query := `
SELECT id, name, prompt, is_active FROM prompt_templates WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, id)
	var tpl domain.PromptTemplate
	if err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Prompt, &tpl.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &tpl, nil
}

var _ domain.TemplateRepository = (*TemplateRepositoryPG)(nil)
