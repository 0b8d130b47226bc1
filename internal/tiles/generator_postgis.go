package tiles

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostGISGenerator renders tiles by calling a render function inside the
// spatial database. The SQL function is the black box; this adapter only
// carries the coordinate in and the encoded tile out.
type PostGISGenerator struct {
	db *sql.DB
}

var _ Generator = (*PostGISGenerator)(nil)

// NewPostGISGenerator opens a connection pool against the spatial database.
func NewPostGISGenerator(databaseURL string) (*PostGISGenerator, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open spatial database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PostGISGenerator{db: db}, nil
}

func (g *PostGISGenerator) Generate(ctx context.Context, coord Coord) ([]byte, error) {
	start := time.Now()
	payload, err := g.generate(ctx, coord)
	observeGeneration("postgres", start, payload, err)
	return payload, err
}

func (g *PostGISGenerator) generate(ctx context.Context, coord Coord) ([]byte, error) {
	var category sql.NullString
	if coord.Category != "" {
		category = sql.NullString{String: coord.Category, Valid: true}
	}

	var payload []byte
	row := g.db.QueryRowContext(ctx,
		`SELECT render_tile($1, $2, $3, $4, $5)`,
		coord.Layer, int64(coord.Z), int64(coord.X), int64(coord.Y), category,
	)
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	return payload, nil
}

// Close releases the connection pool.
func (g *PostGISGenerator) Close() error {
	return g.db.Close()
}
