package handler

import (
	"context"

	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/cloudwatch"
	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/export"
	"github.com/prayosha-panchal-glean/CloudwatchLogExportAWSS3/pkg/watermark"
)

// AWSClients builds real AWS-backed collaborators bound to the
// invocation's region and destination bucket. Endpoint overrides exist
// for local S3 stacks.
type AWSClients struct {
	S3Endpoint       string
	S3ForcePathStyle bool
}

func (c AWSClients) Watermarks(ctx context.Context, inv Invocation) (watermark.Store, error) {
	return watermark.NewS3Store(ctx, watermark.S3Config{
		Bucket:         inv.DestinationBucket,
		Region:         inv.Region,
		Endpoint:       c.S3Endpoint,
		ForcePathStyle: c.S3ForcePathStyle,
	})
}

func (c AWSClients) Source(ctx context.Context, inv Invocation) (export.SourceAPI, error) {
	return cloudwatch.New(ctx, cloudwatch.Config{
		LogGroup:          inv.LogGroupName,
		DestinationBucket: inv.DestinationBucket,
		Region:            inv.Region,
	})
}
