// Package cloudwatch wraps the CloudWatch Logs API calls the exporter
// needs: probing a log group for recent activity and requesting bulk
// export tasks into S3.
package cloudwatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// Config binds a Source to one log group and destination bucket.
type Config struct {
	LogGroup          string
	DestinationBucket string
	Region            string
}

type logsAPI interface {
	DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	CreateExportTask(ctx context.Context, params *cloudwatchlogs.CreateExportTaskInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateExportTaskOutput, error)
}

// Source probes one log group and issues export tasks against it.
type Source struct {
	group  string
	bucket string
	api    logsAPI
}

// New returns a Source backed by the real CloudWatch Logs client.
func New(ctx context.Context, cfg Config) (*Source, error) {
	if cfg.LogGroup == "" {
		return nil, errors.New("log group required")
	}
	if cfg.DestinationBucket == "" {
		return nil, errors.New("destination bucket required")
	}
	if cfg.Region == "" {
		return nil, errors.New("region required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithAPI(cfg.LogGroup, cfg.DestinationBucket, cloudwatchlogs.NewFromConfig(awsCfg)), nil
}

// NewWithAPI returns a Source over an explicit API implementation.
func NewWithAPI(group, bucket string, api logsAPI) *Source {
	return &Source{group: group, bucket: bucket, api: api}
}

// LatestActivity returns the last event timestamp observed in the log
// group. ok is false when the group has no streams or the newest stream
// carries no event timestamp yet.
func (s *Source) LatestActivity(ctx context.Context) (int64, bool, error) {
	resp, err := s.api.DescribeLogStreams(ctx, &cloudwatchlogs.DescribeLogStreamsInput{
		LogGroupName: aws.String(s.group),
		OrderBy:      cwltypes.OrderByLastEventTime,
		Descending:   aws.Bool(true),
		Limit:        aws.Int32(1),
	})
	if err != nil {
		return 0, false, fmt.Errorf("describe log streams %s: %w", s.group, err)
	}
	if len(resp.LogStreams) == 0 || resp.LogStreams[0].LastEventTimestamp == nil {
		return 0, false, nil
	}
	return *resp.LogStreams[0].LastEventTimestamp, true, nil
}

// CreationTime returns the log group's creation time. ok is false when
// the group cannot be found under its own name.
func (s *Source) CreationTime(ctx context.Context) (int64, bool, error) {
	resp, err := s.api.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(s.group),
	})
	if err != nil {
		return 0, false, fmt.Errorf("describe log groups %s: %w", s.group, err)
	}
	for _, group := range resp.LogGroups {
		if group.LogGroupName != nil && *group.LogGroupName == s.group && group.CreationTime != nil {
			return *group.CreationTime, true, nil
		}
	}
	return 0, false, nil
}

// StartExport requests a bulk export of [from, to) into the destination
// bucket. The prefix encodes the source and the window start so distinct
// windows never collide.
func (s *Source) StartExport(ctx context.Context, from, to int64) (string, error) {
	sanitized := sanitize(s.group)
	resp, err := s.api.CreateExportTask(ctx, &cloudwatchlogs.CreateExportTaskInput{
		TaskName:          aws.String(fmt.Sprintf("ExportTask-%s-%s", sanitized, time.Now().UTC().Format("20060102-150405"))),
		LogGroupName:      aws.String(s.group),
		From:              aws.Int64(from),
		To:                aws.Int64(to),
		Destination:       aws.String(s.bucket),
		DestinationPrefix: aws.String(DestinationPrefix(s.group, from)),
	})
	if err != nil {
		return "", fmt.Errorf("create export task %s: %w", s.group, err)
	}
	if resp.TaskId == nil {
		return "", fmt.Errorf("create export task %s: no task id returned", s.group)
	}
	return *resp.TaskId, nil
}

// DestinationPrefix is the object prefix for one export window.
func DestinationPrefix(group string, from int64) string {
	stamp := time.UnixMilli(from).UTC().Format("20060102-150405")
	return fmt.Sprintf("logs/%s/%s", sanitize(group), stamp)
}

func sanitize(group string) string {
	return strings.ReplaceAll(group, "/", "-")
}
