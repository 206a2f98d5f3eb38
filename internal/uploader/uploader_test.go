package uploader

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap/zaptest"
)

type fakePutter struct {
	mu       sync.Mutex
	failures int
	calls    int
	objects  map[string]string
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("slow down")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string]string)
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = string(body)
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		filename string
		want     string
		wantErr  bool
	}{
		{"ludwig_20251230_1030.jsonl", "2025/12/30/ludwig/ludwig_20251230_1030.jsonl", false},
		{"some_streamer_20250102_0905.jsonl", "2025/01/02/some_streamer/some_streamer_20250102_0905.jsonl", false},
		{"ludwig_20251230_1030.2.jsonl", "2025/12/30/ludwig/ludwig_20251230_1030.2.jsonl", false},
		{"20251230_1030.jsonl", "", true},
		{"ludwig_notadate_1030.jsonl", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := objectKey(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("objectKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("objectKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestUploadRetriesThenDeletes(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chan_20251230_1030.jsonl", `{"id":"a"}`+"\n")

	fake := &fakePutter{failures: 2}
	u := NewWithClient(zaptest.NewLogger(t), fake, Options{Bucket: "logs", DeleteAfter: true, MaxRetries: 3})
	u.backoff = time.Millisecond

	if !u.uploadWithRetry(context.Background(), path) {
		t.Fatal("upload should succeed on the third attempt")
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3", fake.calls)
	}
	if got := fake.objects["logs/2025/12/30/chan/chan_20251230_1030.jsonl"]; got != `{"id":"a"}`+"\n" {
		t.Errorf("object body = %q", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("local file should be deleted after upload")
	}
}

func TestUploadGivesUp(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chan_20251230_1030.jsonl", "x\n")

	fake := &fakePutter{failures: 10}
	u := NewWithClient(zaptest.NewLogger(t), fake, Options{Bucket: "logs", DeleteAfter: true, MaxRetries: 2})
	u.backoff = time.Millisecond

	if u.uploadWithRetry(context.Background(), path) {
		t.Fatal("upload should fail")
	}
	if fake.calls != 3 {
		t.Errorf("calls = %d, want 3", fake.calls)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("failed upload must keep the local file")
	}
}

func TestScanAndUploadExisting(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chan_20251230_1030.jsonl", "a\n")
	writeFile(t, dir, "chan_20251230_1130.jsonl", "b\n")
	writeFile(t, dir, "notes.txt", "ignored")

	fake := &fakePutter{}
	u := NewWithClient(zaptest.NewLogger(t), fake, Options{Bucket: "logs"})

	if err := u.ScanAndUploadExisting(context.Background(), dir); err != nil {
		t.Fatal(err)
	}
	u.wg.Wait()

	if len(fake.objects) != 2 {
		t.Errorf("uploaded %d objects, want 2: %v", len(fake.objects), fake.objects)
	}
	if err := u.ScanAndUploadExisting(context.Background(), filepath.Join(dir, "missing")); err == nil {
		t.Error("expected an error for a missing directory")
	}
}

func TestStartUploadsQueuedFiles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "chan_20251230_1030.jsonl", "a\n")

	fake := &fakePutter{}
	u := NewWithClient(zaptest.NewLogger(t), fake, Options{Bucket: "logs"})

	files := make(chan string, 1)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- u.Start(ctx, files) }()

	files <- path
	deadline := time.Now().Add(2 * time.Second)
	for {
		fake.mu.Lock()
		n := len(fake.objects)
		fake.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("file was never uploaded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v", err)
	}
}
