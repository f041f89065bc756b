// Package ruledb loads discount rules from Postgres.
package ruledb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/pricing-service/internal/obs"
	"github.com/noah-isme/pricing-service/internal/pricing"
)

const listRulesSQL = `SELECT rule_id, product_id, min_quantity, discount_percentage::text
FROM pricing_rules
ORDER BY rule_id`

// Queryer is the subset of pgxpool.Pool the loader needs.
type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Open connects a traced pool and verifies it answers.
func Open(ctx context.Context, databaseURL, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Load reads every rule from the pricing_rules table. The rules are not
// validated here; pricing.NewRuleSet does that.
func Load(ctx context.Context, q Queryer) ([]pricing.Rule, error) {
	rows, err := q.Query(ctx, listRulesSQL)
	if err != nil {
		return nil, fmt.Errorf("query pricing rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("scan pricing rules: %w", err)
	}
	return rules, nil
}

func scanRule(row pgx.CollectableRow) (pricing.Rule, error) {
	var (
		r        pricing.Rule
		discount string
	)
	if err := row.Scan(&r.ID, &r.ProductID, &r.MinQuantity, &discount); err != nil {
		return pricing.Rule{}, err
	}
	pct, err := decimal.NewFromString(discount)
	if err != nil {
		return pricing.Rule{}, fmt.Errorf("rule %d: discount_percentage %q: %w", r.ID, discount, err)
	}
	r.DiscountPercentage = pct
	return r, nil
}
