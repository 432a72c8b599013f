// Package export writes the final roster of a stopped session to
// S3-compatible object storage as CSV.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"liveattend/internal/attendance"
	"liveattend/internal/config"
	"liveattend/internal/logging"
)

// Uploader is the subset of the S3 client used for exports.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter uploads roster files. Without an uploader it only logs a summary.
type Exporter struct {
	up     Uploader
	bucket string
	prefix string
	log    logging.Logger
}

func New(up Uploader, bucket, prefix string, log logging.Logger) *Exporter {
	if log == nil {
		log = logging.Nop()
	}
	return &Exporter{up: up, bucket: bucket, prefix: prefix, log: log.With("module", "export")}
}

var loadAWSConfig = awsconfig.LoadDefaultConfig

// NewFromConfig builds an S3 client from the S3_* settings. An empty bucket
// yields a log-only exporter.
func NewFromConfig(ctx context.Context, cfg config.App, log logging.Logger) (*Exporter, error) {
	if cfg.S3Bucket == "" {
		return New(nil, "", cfg.ExportPrefix, log), nil
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.S3Region)}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := loadAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg.S3Bucket, cfg.ExportPrefix, log), nil
}

// Key is the object key of a session's roster: <prefix>/<yyyy>/<mm>/<dd>/<id>.csv,
// dated by the session start in UTC.
func Key(prefix string, s attendance.Session) string {
	day := s.StartedAt.UTC().Format("2006/01/02")
	return path.Join(prefix, day, s.ID+".csv")
}

// RosterCSV renders records as student_name,marked_at,verified in roster order.
func RosterCSV(records []attendance.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"student_name", "marked_at", "verified"}); err != nil {
		return nil, err
	}
	for _, r := range records {
		marked := ""
		if !r.MarkedAt.IsZero() {
			marked = r.MarkedAt.UTC().Format(time.RFC3339)
		}
		if err := w.Write([]string{r.StudentName, marked, strconv.FormatBool(r.Verified)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Export uploads the roster of s and returns the object key.
func (e *Exporter) Export(ctx context.Context, s attendance.Session, records []attendance.Record) (string, error) {
	key := Key(e.prefix, s)
	if e.up == nil {
		e.log.Info(ctx, "roster export skipped, no bucket configured", "session_id", s.ID, "records", len(records))
		return key, nil
	}
	body, err := RosterCSV(records)
	if err != nil {
		return "", fmt.Errorf("render roster: %w", err)
	}
	_, err = e.up.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	e.log.Info(ctx, "roster exported", "session_id", s.ID, "key", key, "records", len(records))
	return key, nil
}
