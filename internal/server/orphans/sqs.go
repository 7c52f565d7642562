package orphans

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/dmitrijs2005/pindrop/internal/logging"
	"go.uber.org/multierr"
)

// maxBatch is the SQS SendMessageBatch entry limit.
const maxBatch = 10

type sqsAPI interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// SQSReporter publishes orphans to a queue, one JSON message per blob. Entries
// the queue rejects are logged so they are never silently lost.
type SQSReporter struct {
	client   sqsAPI
	queueURL string
	fallback *LogReporter
}

func NewSQSReporter(ctx context.Context, region, queueURL string, logger logging.Logger) (*SQSReporter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SQSReporter{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
		fallback: NewLogReporter(logger),
	}, nil
}

func (r *SQSReporter) Report(ctx context.Context, orphans []Orphan) error {
	var errs error
	for start := 0; start < len(orphans); start += maxBatch {
		end := min(start+maxBatch, len(orphans))
		errs = multierr.Append(errs, r.send(ctx, orphans[start:end]))
	}
	return errs
}

func (r *SQSReporter) send(ctx context.Context, batch []Orphan) error {
	entries := make([]types.SendMessageBatchRequestEntry, 0, len(batch))
	for i, o := range batch {
		body, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("encode orphan: %w", err)
		}
		entries = append(entries, types.SendMessageBatchRequestEntry{
			Id:          aws.String(strconv.Itoa(i)),
			MessageBody: aws.String(string(body)),
		})
	}

	out, err := r.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(r.queueURL),
		Entries:  entries,
	})
	if err != nil {
		_ = r.fallback.Report(ctx, batch)
		return fmt.Errorf("sqs send batch: %w", err)
	}

	var errs error
	for _, f := range out.Failed {
		i, convErr := strconv.Atoi(aws.ToString(f.Id))
		if convErr == nil && i >= 0 && i < len(batch) {
			_ = r.fallback.Report(ctx, batch[i:i+1])
		}
		errs = multierr.Append(errs, fmt.Errorf("sqs entry %s: %s", aws.ToString(f.Id), aws.ToString(f.Message)))
	}
	return errs
}
