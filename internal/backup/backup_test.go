package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestFileName(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("zoneinfo unavailable: %v", err)
	}
	now := time.Date(2024, 3, 5, 19, 30, 0, 0, ny) // 2024-03-06 00:30 UTC

	tests := []struct {
		name       string
		start, end time.Time
		want       string
	}{
		{
			name:  "single day",
			start: time.Date(2024, 3, 1, 0, 0, 0, 0, ny),
			end:   time.Date(2024, 3, 1, 0, 0, 0, 0, ny),
			want:  "2024-03-06-00-30_2024-03-01.csv",
		},
		{
			name:  "range",
			start: time.Date(2024, 3, 1, 0, 0, 0, 0, ny),
			end:   time.Date(2024, 3, 4, 0, 0, 0, 0, ny),
			want:  "2024-03-06-00-30_2024-03-01_2024-03-04.csv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileName(now, tt.start, tt.end); got != tt.want {
				t.Errorf("FileName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCreateFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "backup")

	f, path, err := CreateFile(dir, "export.csv")
	if err != nil {
		t.Fatalf("CreateFile failed: %v", err)
	}
	if _, err := io.WriteString(f, "a,b\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if path != filepath.Join(dir, "export.csv") {
		t.Errorf("path = %q", path)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "a,b\n" {
		t.Errorf("content = %q", got)
	}
}

func TestCreateFile_DirIsFile(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := CreateFile(blocker, "x.csv"); err == nil {
		t.Error("expected error when dir is a regular file")
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		in, bucket, prefix string
	}{
		{"bucket", "bucket", ""},
		{"bucket/a/b", "bucket", "a/b"},
		{"s3://bucket/exports/", "bucket", "exports"},
	}
	for _, tt := range tests {
		b, p := ParseS3Path(tt.in)
		if b != tt.bucket || p != tt.prefix {
			t.Errorf("ParseS3Path(%q) = (%q, %q), want (%q, %q)", tt.in, b, p, tt.bucket, tt.prefix)
		}
	}
}

func TestS3Config(t *testing.T) {
	var empty S3Config
	if err := empty.Validate(); err == nil {
		t.Error("Validate accepted a config without bucket")
	}

	cfg := S3Config{Bucket: "b", Prefix: "exports"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
	if got := cfg.Key("x.csv"); got != "exports/x.csv" {
		t.Errorf("Key = %q", got)
	}
	if got := (&S3Config{Bucket: "b"}).Key("x.csv"); got != "x.csv" {
		t.Errorf("Key without prefix = %q", got)
	}
}

type fakePutter struct {
	bucket, key string
	body        []byte
	length      int64
	err         error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.length = aws.ToInt64(in.ContentLength)
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink_UploadsOnClose(t *testing.T) {
	putter := &fakePutter{}
	sink, err := NewS3Sink(context.Background(), putter, "bucket", "exports/x.csv")
	if err != nil {
		t.Fatalf("NewS3Sink failed: %v", err)
	}

	io.WriteString(sink, "Supporter Email,Campaign Type\n")
	io.WriteString(sink, "a@example.org,FUN\n")

	if putter.body != nil {
		t.Fatal("uploaded before Close")
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := "Supporter Email,Campaign Type\na@example.org,FUN\n"
	if string(putter.body) != want {
		t.Errorf("body = %q, want %q", putter.body, want)
	}
	if putter.length != int64(len(want)) {
		t.Errorf("ContentLength = %d, want %d", putter.length, len(want))
	}
	if putter.bucket != "bucket" || putter.key != "exports/x.csv" {
		t.Errorf("uploaded to %s/%s", putter.bucket, putter.key)
	}
	if got := sink.Location(); got != "s3://bucket/exports/x.csv" {
		t.Errorf("Location = %q", got)
	}
	if _, err := os.Stat(sink.spool.Name()); !os.IsNotExist(err) {
		t.Error("spool file not removed")
	}

	if err := sink.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if _, err := sink.Write([]byte("x")); !errors.Is(err, os.ErrClosed) {
		t.Errorf("Write after Close = %v, want os.ErrClosed", err)
	}
}

func TestS3Sink_UploadError(t *testing.T) {
	errDenied := errors.New("AccessDenied")
	sink, err := NewS3Sink(context.Background(), &fakePutter{err: errDenied}, "bucket", "x.csv")
	if err != nil {
		t.Fatalf("NewS3Sink failed: %v", err)
	}
	io.WriteString(sink, "data")

	if err := sink.Close(); !errors.Is(err, errDenied) {
		t.Errorf("Close = %v, want wrapped upload error", err)
	}
}

func TestS3Factory(t *testing.T) {
	putter := &fakePutter{}
	newBackup := S3Factory(putter, S3Config{Bucket: "bucket", Prefix: "en"})

	w, location, err := newBackup(context.Background(), "x.csv")
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	if location != "s3://bucket/en/x.csv" {
		t.Errorf("location = %q", location)
	}
	io.WriteString(w, "data")
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if putter.key != "en/x.csv" || string(putter.body) != "data" {
		t.Errorf("uploaded %q to %s", putter.body, putter.key)
	}
}

func TestDirFactory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	w, location, err := DirFactory(dir)(context.Background(), "x.csv")
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}
	io.WriteString(w, "data")
	w.Close()

	if location != filepath.Join(dir, "x.csv") {
		t.Errorf("location = %q", location)
	}
	got, err := os.ReadFile(location)
	if err != nil || string(got) != "data" {
		t.Errorf("file = %q, %v", got, err)
	}
}
