package watermark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config carries everything needed to reach the watermark bucket.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

type awsS3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Store struct {
	bucket string
	api    awsS3API
}

// NewS3Store returns an S3-backed watermark store.
func NewS3Store(ctx context.Context, cfg S3Config) (Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("watermark bucket required")
	}
	if cfg.Region == "" {
		return nil, errors.New("watermark region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	if cfg.Endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           cfg.Endpoint,
					PartitionID:   "aws",
					SigningRegion: cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(customResolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return newS3StoreWithAPI(cfg.Bucket, client), nil
}

func newS3StoreWithAPI(bucket string, api awsS3API) Store {
	return &s3Store{
		bucket: bucket,
		api:    api,
	}
}

func (s *s3Store) Load(ctx context.Context, sourceID string) (int64, error) {
	key := Key(sourceID)
	resp, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return 0, ErrNotFound
		}
		return 0, &StoreError{Op: "read", Err: fmt.Errorf("get object %s: %w", key, err)}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, &StoreError{Op: "read", Err: fmt.Errorf("read body %s: %w", key, err)}
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, &StoreError{Op: "read", Err: fmt.Errorf("decode %s: %w", key, err)}
	}
	return rec.LastExportTime, nil
}

func (s *s3Store) Save(ctx context.Context, sourceID string, millis int64) error {
	key := Key(sourceID)
	body, err := json.Marshal(record{LastExportTime: millis})
	if err != nil {
		return &StoreError{Op: "write", Err: fmt.Errorf("encode %s: %w", key, err)}
	}
	// bucket-owner-full-control: the destination account must own the
	// record even when the writer's credentials live in another account.
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLBucketOwnerFullControl,
	})
	if err != nil {
		return &StoreError{Op: "write", Err: fmt.Errorf("put object %s: %w", key, err)}
	}
	return nil
}
