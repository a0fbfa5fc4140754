package metrics

import (
	"context"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var loadMillisecondsDistribution = view.Distribution(
	10, 50, 100, 250, 500, 1000, 2000, 3000, 4000, 5000, 7500, 10000, 20000, 60000,
)

// Tags
var (
	WorkflowType, _ = tag.NewKey("workflow_type")
	DropReason, _   = tag.NewKey("drop_reason")
	EventKind, _    = tag.NewKey("event_kind")
)

// Measures
var (
	EventsProcessed     = stats.Int64("events/processed", "Events routed through an engine", stats.UnitDimensionless)
	EventsApplied       = stats.Int64("events/applied", "Events that produced a real state mutation", stats.UnitDimensionless)
	EventsDropped       = stats.Int64("events/dropped", "Events dropped before application", stats.UnitDimensionless)
	PlaceholdersCreated = stats.Int64("reconcile/placeholders", "Placeholder workflows synthesized for out-of-order events", stats.UnitDimensionless)
	PayoutsSucceeded    = stats.Int64("payout/succeeded", "Individual payee payments that produced a proof", stats.UnitDimensionless)
	PayoutsFailed       = stats.Int64("payout/failed", "Individual payee payments that errored", stats.UnitDimensionless)
	BulkLoadDuration    = stats.Float64("load/bulk_ms", "Duration of the historical bulk load", stats.UnitMilliseconds)
	LoadRetries         = stats.Int64("load/retries", "Load attempts that failed and were retried", stats.UnitDimensionless)
)

// DefaultViews is the list of aggregations registered by the daemon.
var DefaultViews = []*view.View{
	{Measure: EventsProcessed, Aggregation: view.Count(), TagKeys: []tag.Key{WorkflowType, EventKind}},
	{Measure: EventsApplied, Aggregation: view.Count(), TagKeys: []tag.Key{WorkflowType, EventKind}},
	{Measure: EventsDropped, Aggregation: view.Count(), TagKeys: []tag.Key{WorkflowType, DropReason}},
	{Measure: PlaceholdersCreated, Aggregation: view.Count(), TagKeys: []tag.Key{WorkflowType}},
	{Measure: PayoutsSucceeded, Aggregation: view.Count(), TagKeys: []tag.Key{WorkflowType}},
	{Measure: PayoutsFailed, Aggregation: view.Count(), TagKeys: []tag.Key{WorkflowType}},
	{Measure: BulkLoadDuration, Aggregation: loadMillisecondsDistribution, TagKeys: []tag.Key{WorkflowType}},
	{Measure: LoadRetries, Aggregation: view.Count(), TagKeys: []tag.Key{WorkflowType}},
}

// Record increments a counter measure with the given tag mutators,
// ignoring tag errors the way short-lived counters can afford to.
func Record(ctx context.Context, m *stats.Int64Measure, mutators ...tag.Mutator) {
	_ = stats.RecordWithTags(ctx, mutators, m.M(1))
}
