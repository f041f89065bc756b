package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxTracedSQL = 300

type ruleQuerySpanKey struct{}

// PGXTracer records a span per rule-store statement. Spans carry the SQL
// verb, the table it touches and the rows it returned, so a slow rule load at
// startup can be told apart from a slow migration.
type PGXTracer struct{}

// TraceQueryStart opens the statement span.
func (PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	verb, table := describeSQL(data.SQL)
	name := "ruledb.query"
	if verb != "" {
		name = "ruledb." + strings.ToLower(verb)
	}
	ctx, span := otel.Tracer("pricing.ruledb").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", clipSQL(data.SQL)),
		attribute.Int("db.args", len(data.Args)),
	)
	if verb != "" {
		span.SetAttributes(attribute.String("db.operation", verb))
	}
	if table != "" {
		span.SetAttributes(attribute.String("db.sql.table", table))
	}
	return context.WithValue(ctx, ruleQuerySpanKey{}, span)
}

// TraceQueryEnd closes the span opened by TraceQueryStart.
func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, ok := ctx.Value(ruleQuerySpanKey{}).(trace.Span)
	if !ok {
		return
	}
	defer span.End()
	if data.Err != nil {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, "rule store query failed")
		return
	}
	span.SetAttributes(attribute.Int64("db.rows", data.CommandTag.RowsAffected()))
}

// describeSQL returns the statement verb and the first table named after
// FROM, INTO or UPDATE.
func describeSQL(sql string) (verb, table string) {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "", ""
	}
	verb = strings.ToUpper(fields[0])
	for i, f := range fields[:len(fields)-1] {
		switch strings.ToUpper(f) {
		case "FROM", "INTO", "UPDATE":
			return verb, strings.Trim(fields[i+1], `"(;`)
		}
	}
	return verb, ""
}

func clipSQL(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > maxTracedSQL {
		return sql[:maxTracedSQL] + "..."
	}
	return sql
}
