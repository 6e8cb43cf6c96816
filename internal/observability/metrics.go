package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MSagaOutcomes            MetricKey = "saga_outcomes_total"
	MCompensationFailures    MetricKey = "compensation_failures_total"
	MIdempotencyLookups      MetricKey = "idempotency_lookups_total"
)

// MetricSpec describes how a MetricKey is registered with a metrics backend.
type MetricSpec struct {
	Key       MetricKey
	Help      string
	Histogram bool
	Labels    []string
}

// Specs lists every metric the service emits.
var Specs = []MetricSpec{
	{Key: MUsecaseRequests, Help: "Total number of use case invocations.", Labels: []string{"use_case", "outcome"}},
	{Key: MUsecaseDuration, Help: "Duration of use case execution in seconds.", Histogram: true, Labels: []string{"use_case"}},
	{Key: MHTTPRequests, Help: "Total number of HTTP requests served.", Labels: []string{"method", "route", "status"}},
	{Key: MHTTPRequestDuration, Help: "Duration of HTTP requests in seconds.", Histogram: true, Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequests, Help: "Total number of calls to external collaborators.", Labels: []string{"peer", "endpoint", "outcome"}},
	{Key: MExternalRequestDuration, Help: "Duration of calls to external collaborators in seconds.", Histogram: true, Labels: []string{"peer", "endpoint"}},
	{Key: MSagaOutcomes, Help: "Terminal order states reached by the saga.", Labels: []string{"state"}},
	{Key: MCompensationFailures, Help: "Compensating actions that failed and need manual reconciliation.", Labels: []string{"step"}},
	{Key: MIdempotencyLookups, Help: "Idempotency cache lookups by result.", Labels: []string{"result"}},
}
