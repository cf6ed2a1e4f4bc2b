package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"resume-analyzer/internal/config"
	"resume-analyzer/internal/models"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// Archiver writes a JSON artifact of each completed analysis to S3 or, when
// no bucket is configured, to a local directory. Archiving is strictly
// best-effort: a failed write is logged and the job still completes.
type Archiver struct {
	dest   uploader
	logger zerolog.Logger
}

// New selects the destination from config.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Archiver, error) {
	var dest uploader
	if cfg.ArchiveS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		dest = &s3Uploader{client: client, bucket: cfg.ArchiveS3Bucket}
	} else {
		baseDir := cfg.ArchiveLocalDir
		if baseDir == "" {
			baseDir = "./archive"
		}
		dest = &localUploader{baseDir: baseDir}
	}
	return &Archiver{dest: dest, logger: logger}, nil
}

type archivedAnalysis struct {
	JobID      string                `json:"jobId"`
	Result     models.AnalysisResult `json:"result"`
	Metadata   models.ResultMetadata `json:"metadata"`
	ArchivedAt time.Time             `json:"archivedAt"`
}

// Put archives one completed result. Errors are absorbed after logging.
func (a *Archiver) Put(ctx context.Context, jobID string, result models.AnalysisResult, meta models.ResultMetadata) {
	body, err := json.Marshal(archivedAnalysis{
		JobID:      jobID,
		Result:     result,
		Metadata:   meta,
		ArchivedAt: time.Now().UTC(),
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("job_id", jobID).Msg("archive marshal failed")
		return
	}
	key := fmt.Sprintf("analyses/%s.json", sanitizeKey(jobID))
	if err := a.dest.Upload(ctx, key, body, "application/json"); err != nil {
		a.logger.Warn().Err(err).Str("job_id", jobID).Msg("archive write failed")
	}
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveS3Region),
	}
	if cfg.ArchiveS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveS3Endpoint,
					HostnameImmutable: cfg.ArchiveS3PathStyle,
					SigningRegion:     cfg.ArchiveS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchiveS3PathStyle
	}), nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

type localUploader struct {
	baseDir string
}

func (u *localUploader) Upload(_ context.Context, key string, body []byte, _ string) error {
	path := filepath.Join(u.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	return nil
}

func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "..", "")
	return strings.Trim(key, "/")
}
