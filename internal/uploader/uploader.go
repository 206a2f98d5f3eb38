// Package uploader ships closed transcript files to S3.
package uploader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/john/chatoverlay/internal/metrics"
)

const roleSessionName = "chatoverlay-uploader"

// ObjectPutter is the part of the S3 client the uploader uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the S3 client and upload policy.
type Options struct {
	Bucket          string
	Region          string
	RoleARN         string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	DeleteAfter     bool
	MaxRetries      int
}

// Uploader handles uploading completed transcript files to S3
type Uploader struct {
	log         *zap.Logger
	client      ObjectPutter
	bucket      string
	deleteAfter bool
	maxRetries  int
	backoff     time.Duration

	wg sync.WaitGroup
}

// New builds an S3 client from opts. Static keys are used when given,
// otherwise the default credential chain. A role ARN is assumed on top of
// either through STS. A custom endpoint switches to path-style addressing for
// S3-compatible services.
func New(ctx context.Context, log *zap.Logger, opts Options) (*Uploader, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	if opts.RoleARN != "" {
		stsClient := sts.NewFromConfig(cfg)
		provider := stscreds.NewAssumeRoleProvider(stsClient, opts.RoleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = roleSessionName
		})
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewWithClient(log, client, opts), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(log *zap.Logger, client ObjectPutter, opts Options) *Uploader {
	return &Uploader{
		log:         log.Named("uploader"),
		client:      client,
		bucket:      opts.Bucket,
		deleteAfter: opts.DeleteAfter,
		maxRetries:  opts.MaxRetries,
		backoff:     time.Second,
	}
}

// ScanAndUploadExisting uploads .jsonl files left in outputDir by an earlier
// run.
func (u *Uploader) ScanAndUploadExisting(ctx context.Context, outputDir string) error {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return fmt.Errorf("read directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		pending = append(pending, filepath.Join(outputDir, entry.Name()))
	}

	if len(pending) == 0 {
		return nil
	}
	u.log.Info("uploading leftover files", zap.String("dir", outputDir), zap.Int("files", len(pending)))

	for _, path := range pending {
		path := path
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			u.uploadWithRetry(ctx, path)
		}()
	}
	return nil
}

// Start uploads every path received on fileChan until ctx is done, then
// waits for uploads in flight.
func (u *Uploader) Start(ctx context.Context, fileChan <-chan string) error {
	for {
		select {
		case path := <-fileChan:
			u.wg.Add(1)
			go func() {
				defer u.wg.Done()
				u.uploadWithRetry(ctx, path)
			}()

		case <-ctx.Done():
			u.log.Info("uploader shutting down")
			u.wg.Wait()
			return ctx.Err()
		}
	}
}

// uploadWithRetry uploads a file, backing off exponentially between attempts
func (u *Uploader) uploadWithRetry(ctx context.Context, localPath string) bool {
	filename := filepath.Base(localPath)
	log := u.log.With(zap.String("file", filename))

	key, err := objectKey(filename)
	if err != nil {
		log.Error("generate object key", zap.Error(err))
		metrics.Uploads.WithLabelValues("invalid").Inc()
		return false
	}

	for attempt := 0; attempt <= u.maxRetries; attempt++ {
		err := u.uploadFile(ctx, localPath, key)
		if err == nil {
			metrics.Uploads.WithLabelValues("ok").Inc()
			log.Info("uploaded", zap.String("bucket", u.bucket), zap.String("key", key))
			if u.deleteAfter {
				if err := os.Remove(localPath); err != nil {
					log.Warn("delete local file", zap.Error(err))
				}
			}
			return true
		}

		if attempt < u.maxRetries {
			backoff := u.backoff << uint(attempt)
			log.Warn("upload failed, retrying",
				zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				metrics.Uploads.WithLabelValues("cancelled").Inc()
				return false
			}
		}
	}

	metrics.Uploads.WithLabelValues("failed").Inc()
	log.Error("upload gave up", zap.Int("attempts", u.maxRetries+1))
	return false
}

func (u *Uploader) uploadFile(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// objectKey derives the object key from a transcript filename.
// Input: ludwig_20251230_1030.jsonl (or ludwig_20251230_1030.2.jsonl)
// Output: 2025/12/30/ludwig/ludwig_20251230_1030.jsonl
func objectKey(filename string) (string, error) {
	name := strings.TrimSuffix(filename, ".jsonl")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}

	// channel names may contain underscores, so parse from the end
	parts := strings.Split(name, "_")
	if len(parts) < 3 {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}
	channel := strings.Join(parts[:len(parts)-2], "_")
	if channel == "" {
		return "", fmt.Errorf("invalid filename format: %s", filename)
	}

	t, err := time.Parse("20060102_1504", parts[len(parts)-2]+"_"+parts[len(parts)-1])
	if err != nil {
		return "", fmt.Errorf("parse timestamp: %w", err)
	}

	return fmt.Sprintf("%04d/%02d/%02d/%s/%s", t.Year(), t.Month(), t.Day(), channel, filename), nil
}
