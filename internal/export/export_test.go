package export

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveattend/internal/attendance"
	"liveattend/internal/config"
)

type fakeUploader struct {
	in   *s3.PutObjectInput
	body string
	err  error
}

func (f *fakeUploader) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

var session = attendance.Session{ID: "s-1", StartedAt: time.Date(2024, 9, 2, 23, 30, 0, 0, time.UTC)}

func TestKey(t *testing.T) {
	assert.Equal(t, "rosters/2024/09/02/s-1.csv", Key("rosters", session))
	assert.Equal(t, "2024/09/02/s-1.csv", Key("", session))
}

func TestRosterCSV(t *testing.T) {
	at := time.Date(2024, 9, 2, 9, 5, 0, 0, time.UTC)
	out, err := RosterCSV([]attendance.Record{
		{StudentName: "Bob", MarkedAt: at.Add(time.Minute), Verified: true},
		{StudentName: "O'Neil, Ann", MarkedAt: at, Verified: true},
		{StudentName: "Pending"},
	})
	require.NoError(t, err)
	assert.Equal(t, "student_name,marked_at,verified\n"+
		"Bob,2024-09-02T09:06:00Z,true\n"+
		"\"O'Neil, Ann\",2024-09-02T09:05:00Z,true\n"+
		"Pending,,false\n", string(out))
}

func TestExport_Uploads(t *testing.T) {
	up := &fakeUploader{}
	e := New(up, "attendance", "rosters", nil)

	key, err := e.Export(context.Background(), session, []attendance.Record{{StudentName: "Alice", Verified: true}})
	require.NoError(t, err)
	assert.Equal(t, "rosters/2024/09/02/s-1.csv", key)
	require.NotNil(t, up.in)
	assert.Equal(t, "attendance", aws.ToString(up.in.Bucket))
	assert.Equal(t, key, aws.ToString(up.in.Key))
	assert.Equal(t, "text/csv", aws.ToString(up.in.ContentType))
	assert.Contains(t, up.body, "Alice,,true")
}

func TestExport_UploadError(t *testing.T) {
	e := New(&fakeUploader{err: errors.New("access denied")}, "attendance", "", nil)
	_, err := e.Export(context.Background(), session, nil)
	assert.ErrorContains(t, err, "access denied")
}

func TestExport_LogOnlyWithoutBucket(t *testing.T) {
	e, err := NewFromConfig(context.Background(), config.App{ExportPrefix: "rosters"}, nil)
	require.NoError(t, err)
	key, err := e.Export(context.Background(), session, nil)
	require.NoError(t, err)
	assert.Equal(t, "rosters/2024/09/02/s-1.csv", key)
}

func TestNewFromConfig_AppliesRegionAndCredentials(t *testing.T) {
	orig := loadAWSConfig
	t.Cleanup(func() { loadAWSConfig = orig })

	var lo awsconfig.LoadOptions
	loadAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		return aws.Config{Region: lo.Region, Credentials: lo.Credentials}, nil
	}

	e, err := NewFromConfig(context.Background(), config.App{
		S3Bucket:    "attendance",
		S3Region:    "us-east-1",
		S3Endpoint:  "http://127.0.0.1:9000",
		S3AccessKey: "minioadmin",
		S3SecretKey: "minioadmin",
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, e.up)
	assert.Equal(t, "us-east-1", lo.Region)
	creds, err := lo.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minioadmin", creds.AccessKeyID)

	loadAWSConfig = func(context.Context, ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no region")
	}
	_, err = NewFromConfig(context.Background(), config.App{S3Bucket: "b"}, nil)
	assert.ErrorContains(t, err, "no region")
}
