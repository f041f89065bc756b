package ruledb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pricing-service/internal/pricing"
)

type ruleRow struct {
	id, product, minQty int64
	discount            string
}

type fakeRows struct {
	rows   []ruleRow
	pos    int
	closed bool
	err    error
}

func (f *fakeRows) Close()                                       { f.closed = true }
func (f *fakeRows) Err() error                                   { return f.err }
func (f *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (f *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (f *fakeRows) RawValues() [][]byte                          { return nil }
func (f *fakeRows) Conn() *pgx.Conn                              { return nil }
func (f *fakeRows) Values() ([]any, error) {
	r := f.rows[f.pos-1]
	return []any{r.id, r.product, r.minQty, r.discount}, nil
}

func (f *fakeRows) Next() bool {
	if f.closed || f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	if len(dest) != 4 {
		return fmt.Errorf("expected 4 columns, got %d", len(dest))
	}
	r := f.rows[f.pos-1]
	*dest[0].(*int64) = r.id
	*dest[1].(*int64) = r.product
	*dest[2].(*int64) = r.minQty
	*dest[3].(*string) = r.discount
	return nil
}

type fakeQueryer struct {
	rows *fakeRows
	err  error
	sql  string
}

func (q *fakeQueryer) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.sql = sql
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestLoadScansRules(t *testing.T) {
	q := &fakeQueryer{rows: &fakeRows{rows: []ruleRow{
		{id: 1, product: 1, minQty: 5, discount: "10.00"},
		{id: 2, product: 1, minQty: 10, discount: "15.00"},
		{id: 3, product: 2, minQty: 10, discount: "5.50"},
	}}}

	rules, err := Load(context.Background(), q)
	require.NoError(t, err)
	require.Contains(t, q.sql, "FROM pricing_rules")
	require.True(t, q.rows.closed)
	require.Len(t, rules, 3)
	require.Equal(t, int64(2), rules[1].ID)
	require.Equal(t, int64(10), rules[1].MinQuantity)
	require.Equal(t, "5.5", rules[2].DiscountPercentage.String())

	rs, err := pricing.NewRuleSet(rules)
	require.NoError(t, err)
	require.Equal(t, "15", rs.Discount(1, 12).String())
}

func TestLoadPropagatesErrors(t *testing.T) {
	_, err := Load(context.Background(), &fakeQueryer{err: errors.New("relation does not exist")})
	require.ErrorContains(t, err, "query pricing rules")

	_, err = Load(context.Background(), &fakeQueryer{rows: &fakeRows{rows: []ruleRow{{id: 1, product: 1, minQty: 1, discount: "ten"}}}})
	require.ErrorContains(t, err, "scan pricing rules")

	_, err = Load(context.Background(), &fakeQueryer{rows: &fakeRows{err: errors.New("conn reset")}})
	require.ErrorContains(t, err, "conn reset")
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{
		"migrations/0001_pricing_rules.up.sql",
		"migrations/0001_pricing_rules.down.sql",
	}, names)

	src, err := iofs.New(migrations, "migrations")
	require.NoError(t, err)
	defer func() { _ = src.Close() }()
	first, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), first)

	up, _, err := src.ReadUp(first)
	require.NoError(t, err)
	defer func() { _ = up.Close() }()
}

func TestMigrateURL(t *testing.T) {
	got, err := migrateURL("postgres://app:secret@db:5432/pricing?sslmode=disable")
	require.NoError(t, err)
	require.Equal(t, "pgx5://app:secret@db:5432/pricing?sslmode=disable", got)

	_, err = migrateURL("mysql://db/pricing")
	require.Error(t, err)
}
