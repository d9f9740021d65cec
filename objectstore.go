package main

import (
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Archive is where syllabi and finished plans are written to and read from.
type Archive interface {
	PutSyllabus(ctx context.Context, planID uuid.UUID, filename, mime string, data []byte) (string, error)
	PutPlan(ctx context.Context, plan *StudyPlan) (string, error)
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// r2Archive stores objects in a Cloudflare R2 bucket over the S3 API.
type r2Archive struct {
	client *s3.Client
	bucket string
}

func NewR2Archive(ctx context.Context, r2Config R2Config) (Archive, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(r2Config.AccessKey, r2Config.SecretKey, "")),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating aws config: %w", err)
	}
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", r2Config.AccountID))
	})
	return &r2Archive{client: client, bucket: r2Config.Bucket}, nil
}

func syllabusKey(planID uuid.UUID, filename string) string {
	name := path.Base(filename)
	if name == "." || name == "/" || name == "" {
		name = "syllabus"
	}
	return fmt.Sprintf("syllabi/%s/%s", planID, name)
}

func planKey(planID uuid.UUID) string {
	return fmt.Sprintf("plans/%s.md", planID)
}

func (a *r2Archive) PutSyllabus(ctx context.Context, planID uuid.UUID, filename, mime string, data []byte) (string, error) {
	if mime == "" {
		mime = syllabusKind(filename, "")
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	key := syllabusKey(planID, filename)
	_, err := retry(ctx, 3, func() (any, error) {
		return nil, UploadToR2(ctx, a.client, a.bucket, key, mime, data)
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (a *r2Archive) PutPlan(ctx context.Context, plan *StudyPlan) (string, error) {
	key := planKey(plan.ID)
	_, err := retry(ctx, 3, func() (any, error) {
		return nil, UploadToR2(ctx, a.client, a.bucket, key, "text/markdown; charset=utf-8", []byte(plan.Markdown))
	})
	if err != nil {
		return "", err
	}
	return key, nil
}

func (a *r2Archive) Fetch(ctx context.Context, key string) ([]byte, error) {
	return retry(ctx, 3, func() ([]byte, error) {
		return DownloadFromR2(ctx, a.client, a.bucket, key)
	})
}
