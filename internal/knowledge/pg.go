package knowledge

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

// identifierRE matches unquoted PostgreSQL identifiers. Schema and
// table names are interpolated into SQL text, so they must pass this
// check; everything else is bound as a query parameter.
var identifierRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// rrfK is the reciprocal-rank fusion constant. 60 is the value from the
// original RRF paper and what most search engines default to.
const rrfK = 60

// PG implements Querier on PostgreSQL + pgvector. The logical namespace
// (schema, table) is fixed at construction, one per deployment.
type PG struct {
	pool  *pgxpool.Pool
	table string // "schema.table", validated

	upsertSQL string
	searchSQL string
	countSQL  string
}

// NewPG creates the production querier. schema and table must be plain
// lowercase identifiers.
func NewPG(pool *pgxpool.Pool, schema, table string) (*PG, error) {
	if !identifierRE.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema identifier %q", schema)
	}
	if !identifierRE.MatchString(table) {
		return nil, fmt.Errorf("invalid table identifier %q", table)
	}

	qualified := schema + "." + table

	p := &PG{
		pool:  pool,
		table: qualified,
	}
	p.upsertSQL = fmt.Sprintf(upsertChunkSQL, qualified)
	p.searchSQL = fmt.Sprintf(searchChunksSQL, qualified)
	p.countSQL = fmt.Sprintf(countChunksSQL, qualified)

	return p, nil
}

// upsertChunkSQL overwrites the record for (source_document_id,
// sequence_index), keeping the write path idempotent per pair.
const upsertChunkSQL = `
INSERT INTO %s (id, source_document_id, sequence_index, content, embedding, metadata, filters)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source_document_id, sequence_index)
DO UPDATE SET
    content  = EXCLUDED.content,
    embedding = EXCLUDED.embedding,
    metadata = EXCLUDED.metadata,
    filters  = EXCLUDED.filters,
    created_at = now()
`

// searchChunksSQL fuses a vector ranking (cosine distance) and a
// keyword ranking (ts_rank_cd over the generated tsvector column) with
// reciprocal-rank fusion. The filter is JSONB containment, applied
// before either ranking. Tie-break inside each ranking and on the fused
// score uses (sequence_index, source_document_id) ascending so results
// are deterministic for fixed inputs and contents.
const searchChunksSQL = `
WITH candidates AS (
    SELECT id, source_document_id, sequence_index, content, metadata, filters,
           embedding <=> $1 AS vector_distance,
           ts_rank_cd(content_tsv, plainto_tsquery('english', $2)) AS text_rank
    FROM %s
    WHERE ($3::jsonb IS NULL OR filters @> $3::jsonb)
),
vector_ranked AS (
    SELECT id, row_number() OVER (
        ORDER BY vector_distance ASC, sequence_index ASC, source_document_id ASC
    ) AS rank
    FROM candidates
),
text_ranked AS (
    SELECT id, row_number() OVER (
        ORDER BY text_rank DESC, sequence_index ASC, source_document_id ASC
    ) AS rank
    FROM candidates
)
SELECT c.id, c.source_document_id, c.sequence_index, c.content, c.metadata, c.filters,
       (1.0 / ($4 + v.rank) + 1.0 / ($4 + t.rank))::float8 AS score
FROM candidates c
JOIN vector_ranked v USING (id)
JOIN text_ranked t USING (id)
ORDER BY score DESC, c.sequence_index ASC, c.source_document_id ASC
LIMIT $5
`

const countChunksSQL = `
SELECT count(*) FROM %s
WHERE ($1::jsonb IS NULL OR filters @> $1::jsonb)
`

// UpsertChunk implements Querier.
func (p *PG) UpsertChunk(ctx context.Context, arg UpsertChunkParams) error {
	_, err := p.pool.Exec(ctx, p.upsertSQL,
		arg.ID,
		arg.SourceDocumentID,
		arg.SequenceIndex,
		arg.Content,
		arg.Embedding,
		arg.Metadata,
		arg.Filters,
	)
	return err
}

// SearchChunks implements Querier.
func (p *PG) SearchChunks(ctx context.Context, arg SearchChunksParams) ([]SearchChunksRow, error) {
	rows, err := p.pool.Query(ctx, p.searchSQL,
		arg.QueryEmbedding,
		arg.QueryText,
		arg.FilterJSON,
		rrfK,
		arg.ResultLimit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchChunksRow
	for rows.Next() {
		var row SearchChunksRow
		if err := rows.Scan(
			&row.ID,
			&row.SourceDocumentID,
			&row.SequenceIndex,
			&row.Content,
			&row.Metadata,
			&row.Filters,
			&row.Score,
		); err != nil {
			return nil, err
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// CountChunks implements Querier.
func (p *PG) CountChunks(ctx context.Context, filterJSON []byte) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, p.countSQL, filterJSON).Scan(&count)
	return count, err
}
