package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/crossypost/platform"
	"github.com/onnwee/crossypost/telemetry"
)

func TestMain(m *testing.M) {
	telemetry.Init()
	os.Exit(m.Run())
}

type fakeDownloader struct {
	content string
	err     error
	calls   int
}

func (d *fakeDownloader) DownloadAsset(ctx context.Context, fileID, destPath string) error {
	d.calls++
	if d.err != nil {
		return d.err
	}
	return os.WriteFile(destPath, []byte(d.content), 0o644)
}

type fakeUploader struct {
	url   string
	err   error
	panic bool
	paths []string
}

func (f *fakeUploader) ConnectPrompt() (string, error) { return "", nil }
func (f *fakeUploader) Exchange(ctx context.Context, input string) (platform.Record, error) {
	return nil, nil
}
func (f *fakeUploader) Upload(ctx context.Context, path, title, description string, rec platform.Record) (string, error) {
	f.paths = append(f.paths, path)
	if f.panic {
		panic("uploader blew up")
	}
	return f.url, f.err
}

func target(id platform.ID, up *fakeUploader) Target {
	return Target{
		Platform: platform.Descriptor{ID: id, Name: string(id), Publisher: up},
		Record:   platform.Record{"access_token": "t"},
	}
}

func TestRunPartialFailureKeepsOrderAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	a := &fakeUploader{url: "https://a/1"}
	b := &fakeUploader{err: errors.New("quota exceeded")}
	c := &fakeUploader{url: "https://c/3"}
	dl := &fakeDownloader{content: "video"}
	orch := &Orchestrator{Downloader: dl, DownloadDir: dir}

	var progressed []platform.ID
	req := Request{
		UserID:      1,
		AssetFileID: "fid",
		Title:       "T",
		Targets:     []Target{target(platform.YouTube, a), target(platform.VK, b), target(platform.TikTok, c)},
	}
	outcomes, err := orch.Run(context.Background(), req, func(d platform.Descriptor) {
		progressed = append(progressed, d.ID)
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outcomes))
	}
	wantOrder := []platform.ID{platform.YouTube, platform.VK, platform.TikTok}
	for i, id := range wantOrder {
		if outcomes[i].Platform != id {
			t.Errorf("outcomes[%d].Platform = %s, want %s", i, outcomes[i].Platform, id)
		}
		if progressed[i] != id {
			t.Errorf("progress[%d] = %s, want %s", i, progressed[i], id)
		}
	}
	if !outcomes[0].OK() || outcomes[0].URL != "https://a/1" {
		t.Errorf("outcome A = %+v", outcomes[0])
	}
	if outcomes[1].OK() || outcomes[1].Cause == "" {
		t.Errorf("outcome B = %+v", outcomes[1])
	}
	if !outcomes[2].OK() || outcomes[2].URL != "https://c/3" {
		t.Errorf("outcome C = %+v", outcomes[2])
	}

	if dl.calls != 1 {
		t.Errorf("asset downloaded %d times, want exactly once", dl.calls)
	}
	// All three saw the same shared path, and it is gone afterwards.
	if len(a.paths) != 1 || len(b.paths) != 1 || len(c.paths) != 1 || a.paths[0] != b.paths[0] || b.paths[0] != c.paths[0] {
		t.Errorf("uploaders saw differing paths: %v %v %v", a.paths, b.paths, c.paths)
	}
	if _, err := os.Stat(a.paths[0]); !os.IsNotExist(err) {
		t.Errorf("downloaded asset not removed after publish")
	}
}

func TestRunIsolatesPanickingUploader(t *testing.T) {
	dir := t.TempDir()
	bad := &fakeUploader{panic: true}
	good := &fakeUploader{url: "https://ok"}
	orch := &Orchestrator{Downloader: &fakeDownloader{content: "v"}, DownloadDir: dir}

	req := Request{Targets: []Target{target(platform.Instagram, bad), target(platform.VK, good)}}
	outcomes, err := orch.Run(context.Background(), req, nil)
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if outcomes[0].OK() {
		t.Errorf("expected panicking uploader to fail its own outcome")
	}
	if !outcomes[1].OK() {
		t.Errorf("sibling platform affected by panic: %+v", outcomes[1])
	}
}

func TestRunDownloadFailure(t *testing.T) {
	orch := &Orchestrator{Downloader: &fakeDownloader{err: errors.New("file too big")}, DownloadDir: t.TempDir()}
	up := &fakeUploader{url: "x"}
	outcomes, err := orch.Run(context.Background(), Request{Targets: []Target{target(platform.VK, up)}}, nil)
	if err == nil {
		t.Fatalf("expected download error")
	}
	if outcomes != nil {
		t.Errorf("expected no outcomes on download failure, got %v", outcomes)
	}
	if len(up.paths) != 0 {
		t.Errorf("no upload should be attempted when download fails")
	}
}

func TestPoolRunsJobAndReportsDone(t *testing.T) {
	dir := t.TempDir()
	orch := &Orchestrator{Downloader: &fakeDownloader{content: "v"}, DownloadDir: dir}
	pool := NewPool(orch, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx, 1)

	done := make(chan []Outcome, 1)
	ok := pool.Enqueue(Job{
		Request: Request{Targets: []Target{target(platform.VK, &fakeUploader{url: "https://vk"})}},
		Done:    func(outcomes []Outcome, err error) { done <- outcomes },
	})
	if !ok {
		t.Fatalf("Enqueue refused with empty queue")
	}
	select {
	case outcomes := <-done:
		if len(outcomes) != 1 || !outcomes[0].OK() {
			t.Errorf("outcomes = %v", outcomes)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("publish job never completed")
	}
}

func TestPoolEnqueueFullQueue(t *testing.T) {
	orch := &Orchestrator{Downloader: &fakeDownloader{content: "v"}, DownloadDir: t.TempDir()}
	pool := NewPool(orch, 1)
	// No workers started: first job sits in the queue, second must be refused.
	if !pool.Enqueue(Job{}) {
		t.Fatalf("first enqueue should succeed")
	}
	if pool.Enqueue(Job{}) {
		t.Errorf("second enqueue should report a full queue")
	}
	if pool.QueueDepth() != 1 {
		t.Errorf("QueueDepth = %d, want 1", pool.QueueDepth())
	}
}

func TestSweepDownloads(t *testing.T) {
	dir := t.TempDir()
	leftover := filepath.Join(dir, "stale.mp4")
	if err := os.WriteFile(leftover, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	SweepDownloads(dir)
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Errorf("expected orphaned file to be removed")
	}
}
