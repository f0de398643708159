package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ordermanager/ordermanager/pkg/types"
)

// SaveScheduledIntent durably records an intent the scheduler is holding
// until its After activation — so the delay queue can be rehydrated on
// restart.
func (s *Store) SaveScheduledIntent(ctx context.Context, intent types.ScheduledIntent) error {
	value, unit := intent.Amount.Columns()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_intents (
			id, strategy, sub_strategy, time_stamp, ticker, amount, unit,
			update_policy, decision_price, limit_price, stop_price, before_time, after_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID.String(), intent.Strategy, nullableString(intent.SubStrategy),
		intent.Timestamp.Format(time.RFC3339Nano), intent.Identifier.Column(),
		value.String(), unit, string(intent.UpdatePolicy),
		nullableDecimal(intent.DecisionPrice), nullableDecimal(intent.LimitPrice), nullableDecimal(intent.StopPrice),
		nullableTime(intent.Before), nullableTime(intent.After),
	)
	if err != nil {
		return fmt.Errorf("save scheduled intent: %w", err)
	}
	return nil
}

// ListScheduledIntents returns every intent the scheduler must rehydrate at
// startup.
func (s *Store) ListScheduledIntents(ctx context.Context) ([]types.ScheduledIntent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, strategy, sub_strategy, time_stamp, ticker, amount, unit,
			update_policy, decision_price, limit_price, stop_price, before_time, after_time
		FROM scheduled_intents`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled intents: %w", err)
	}
	defer rows.Close()

	var out []types.ScheduledIntent
	for rows.Next() {
		intent, err := scanScheduledIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// DeleteScheduledIntent removes an intent once the scheduler has fired it.
func (s *Store) DeleteScheduledIntent(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_intents WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete scheduled intent: %w", err)
	}
	return nil
}

func scanScheduledIntent(row rowScanner) (types.ScheduledIntent, error) {
	var (
		id, strategy, timeStamp, tickerCol, amount, unit, updatePolicy string
		subStrategy, decisionPrice, limitPrice, stopPrice              sql.NullString
		beforeTime, afterTime                                          sql.NullString
	)
	if err := row.Scan(
		&id, &strategy, &subStrategy, &timeStamp, &tickerCol, &amount, &unit,
		&updatePolicy, &decisionPrice, &limitPrice, &stopPrice, &beforeTime, &afterTime,
	); err != nil {
		return types.ScheduledIntent{}, err
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return types.ScheduledIntent{}, fmt.Errorf("parse scheduled intent id: %w", err)
	}
	parsedTimestamp, err := time.Parse(time.RFC3339Nano, timeStamp)
	if err != nil {
		return types.ScheduledIntent{}, fmt.Errorf("parse scheduled intent time_stamp: %w", err)
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return types.ScheduledIntent{}, fmt.Errorf("parse scheduled intent amount: %w", err)
	}
	parsedAmount, err := types.AmountFromColumns(value, unit)
	if err != nil {
		return types.ScheduledIntent{}, err
	}
	decision, err := scanNullableDecimal(decisionPrice)
	if err != nil {
		return types.ScheduledIntent{}, err
	}
	limit, err := scanNullableDecimal(limitPrice)
	if err != nil {
		return types.ScheduledIntent{}, err
	}
	stop, err := scanNullableDecimal(stopPrice)
	if err != nil {
		return types.ScheduledIntent{}, err
	}
	before, err := scanNullableTime(beforeTime)
	if err != nil {
		return types.ScheduledIntent{}, err
	}
	after, err := scanNullableTime(afterTime)
	if err != nil {
		return types.ScheduledIntent{}, err
	}

	return types.ScheduledIntent{
		ID:            parsedID,
		Strategy:      strategy,
		SubStrategy:   scanNullableString(subStrategy),
		Timestamp:     parsedTimestamp,
		Identifier:    types.IdentifierFromColumn(tickerCol),
		Amount:        parsedAmount,
		UpdatePolicy:  types.UpdatePolicy(updatePolicy),
		DecisionPrice: decision,
		LimitPrice:    limit,
		StopPrice:     stop,
		Before:        before,
		After:         after,
	}, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func scanNullableTime(src sql.NullString) (*time.Time, error) {
	if !src.Valid {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, src.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", src.String, err)
	}
	return &parsed, nil
}
