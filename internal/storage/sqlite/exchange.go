package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	relay "github.com/kjellberg/relayproxy/internal"
)

// timeLayout is a fixed-width RFC3339 variant (zero-padded nanoseconds,
// always "Z") so that lexical string comparison in SQL WHERE clauses agrees
// with chronological order -- RFC3339Nano trims trailing zeros, which would
// make a plain ">=" / "<" comparison unreliable across differing precision.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Add inserts the Exchange and, when present, its child TokenUsage, in a
// single transaction so either both rows land or neither does.
func (s *Store) Add(ctx context.Context, exchange *relay.Exchange) error {
	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", relay.ErrPersist, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	reqHeaders, err := marshalHeaders(exchange.RequestHeaders)
	if err != nil {
		return fmt.Errorf("%w: marshal request headers: %v", relay.ErrPersist, err)
	}
	respHeaders, err := marshalHeaders(exchange.ResponseHeaders)
	if err != nil {
		return fmt.Errorf("%w: marshal response headers: %v", relay.ErrPersist, err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO exchanges
			(timestamp, method, path, request_headers, request_body,
			 response_status, response_headers, response_body, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exchange.Timestamp.UTC().Format(timeLayout),
		exchange.Method,
		exchange.Path,
		reqHeaders,
		nullableBody(exchange.RequestBody, exchange.HasRequestBody),
		exchange.ResponseStatus,
		respHeaders,
		nullableBody(exchange.ResponseBody, exchange.HasResponseBody),
		exchange.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("%w: insert exchange: %v", relay.ErrPersist, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: last insert id: %v", relay.ErrPersist, err)
	}
	exchange.ID = id

	if tu := exchange.TokenUsage; tu != nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO token_usage
				(exchange_id, timestamp, model, input_tokens, output_tokens,
				 cache_read_tokens, cache_creation_tokens)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id,
			exchange.Timestamp.UTC().Format(timeLayout),
			nullModel(tu.Model, tu.HasModel),
			tu.InputTokens, tu.OutputTokens, tu.CacheReadTokens, tu.CacheCreationTokens,
		)
		if err != nil {
			return fmt.Errorf("%w: insert token usage: %v", relay.ErrPersist, err)
		}
		tu.ExchangeID = id
		tu.Timestamp = exchange.Timestamp
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", relay.ErrPersist, err)
	}
	return nil
}

// GetStatsProjections returns exchanges with from <= timestamp < to,
// left-joined against token_usage so exchanges without a linked usage row
// project to has_llm=false with zero token counts.
func (s *Store) GetStatsProjections(ctx context.Context, from, to time.Time) ([]relay.StatsProjection, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT e.timestamp, tu.exchange_id IS NOT NULL AS has_llm,
		        COALESCE(tu.input_tokens, 0), COALESCE(tu.output_tokens, 0)
		 FROM exchanges e
		 LEFT JOIN token_usage tu ON tu.exchange_id = e.id
		 WHERE e.timestamp >= ? AND e.timestamp < ?`,
		from.UTC().Format(timeLayout), to.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query projections: %w", err)
	}
	defer rows.Close()

	var out []relay.StatsProjection
	for rows.Next() {
		var tsStr string
		var p relay.StatsProjection
		if err := rows.Scan(&tsStr, &p.HasLLM, &p.InputTokens, &p.OutputTokens); err != nil {
			return nil, fmt.Errorf("scan projection: %w", err)
		}
		ts, err := time.Parse(timeLayout, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		p.Timestamp = ts
		out = append(out, p)
	}
	return out, rows.Err()
}

func marshalHeaders(h relay.Headers) (string, error) {
	if h == nil {
		h = relay.Headers{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullableBody(body string, present bool) sql.NullString {
	if !present {
		return sql.NullString{}
	}
	return sql.NullString{String: body, Valid: true}
}

func nullModel(model string, present bool) sql.NullString {
	if !present {
		return sql.NullString{}
	}
	return sql.NullString{String: model, Valid: true}
}
