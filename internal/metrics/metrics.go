// Package metrics emits pipeline telemetry to CloudWatch. Emission is
// best-effort: a metrics outage must never affect ingestion, so every
// publish failure is logged and swallowed.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"zipsea/internal/types"
)

// Metric and dimension names.
const (
	metricUnitResult    = "IngestionUnitResult"
	metricUnitDuration  = "IngestionUnitDuration"
	metricQueueLag      = "SyncQueueLag"
	metricBatchTerminal = "BatchTerminal"

	dimResult = "Result"
	dimStatus = "Status"
)

// Publisher is the telemetry surface the pipeline emits through.
type Publisher interface {
	// RecordUnitResult counts one finished unit and its wall-clock duration.
	RecordUnitResult(ctx context.Context, success bool, duration time.Duration)
	// RecordQueueLag tracks time between message enqueue and processing
	// start, including any requeue delay and backlog.
	RecordQueueLag(ctx context.Context, lag time.Duration)
	// RecordBatchTerminal counts one batch reaching a terminal status.
	RecordBatchTerminal(ctx context.Context, status types.BatchStatus)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher implements Publisher over AWS CloudWatch.
type CloudWatchPublisher struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchPublisher creates a CloudWatchPublisher emitting into the
// given namespace.
func NewCloudWatchPublisher(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchPublisher {
	return &CloudWatchPublisher{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchPublisher) RecordUnitResult(ctx context.Context, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failed"
	}
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricUnitResult),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimResult), Value: aws.String(result)},
			},
		},
		{
			MetricName: aws.String(metricUnitDuration),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimResult), Value: aws.String(result)},
			},
		},
	})
}

func (m *CloudWatchPublisher) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricQueueLag),
			Value:      aws.Float64(float64(lag.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
		},
	})
}

func (m *CloudWatchPublisher) RecordBatchTerminal(ctx context.Context, status types.BatchStatus) {
	m.put(ctx, []cwtypes.MetricDatum{
		{
			MetricName: aws.String(metricBatchTerminal),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(dimStatus), Value: aws.String(string(status))},
			},
		},
	})
}

func (m *CloudWatchPublisher) put(ctx context.Context, data []cwtypes.MetricDatum) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.ErrorContext(ctx, "failed to publish metrics",
			slog.String("error", err.Error()))
	}
}

// NoopPublisher discards all metrics. Used when telemetry is disabled and in
// tests.
type NoopPublisher struct{}

func (NoopPublisher) RecordUnitResult(context.Context, bool, time.Duration) {}
func (NoopPublisher) RecordQueueLag(context.Context, time.Duration)        {}
func (NoopPublisher) RecordBatchTerminal(context.Context, types.BatchStatus) {
}

var (
	_ Publisher = (*CloudWatchPublisher)(nil)
	_ Publisher = NoopPublisher{}
)
