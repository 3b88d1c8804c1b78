package navcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/starford/navigator/internal/apperr"
	"github.com/starford/navigator/internal/models"
	"github.com/starford/navigator/internal/parser"
	"github.com/starford/navigator/internal/scheduler"
	"github.com/starford/navigator/internal/testutil"
	"github.com/starford/navigator/internal/vault"
)

type harness struct {
	t     *testing.T
	dir   string
	fs    *vault.FS
	dbDir string
	cache *Cache

	// host replaces fs as the cache's host when set.
	host        vault.Host
	onBlobEvict func(path string)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := newStoppedHarness(t)
	h.start("test")
	return h
}

func newStoppedHarness(t *testing.T) *harness {
	t.Helper()
	dir, fs := testutil.TestVault(t)
	return &harness{t: t, dir: dir, fs: fs, dbDir: t.TempDir()}
}

func (h *harness) start(instance string) {
	h.t.Helper()
	opts := DefaultOptions(false)
	opts.DatabaseDir = h.dbDir
	opts.TickInterval = time.Millisecond
	var host vault.Host = h.fs
	if h.host != nil {
		host = h.host
	}
	c, err := Initialize(context.Background(), instance, opts, Deps{
		Host:        host,
		Logger:      testutil.Logger(),
		OnBlobEvict: h.onBlobEvict,
	})
	if err != nil {
		h.t.Fatalf("Initialize: %v", err)
	}
	h.cache = c
	h.t.Cleanup(func() { _ = c.Shutdown() })
}

// write stores content and returns the event a host would deliver.
func (h *harness) write(kind models.EventKind, rel, content string) models.FileEvent {
	h.t.Helper()
	testutil.WriteFile(h.t, h.dir, rel, content)
	st, err := h.fs.Stat(rel)
	if err != nil {
		h.t.Fatal(err)
	}
	return models.FileEvent{Kind: kind, Path: rel, Stat: st}
}

func (h *harness) idle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.cache.WaitIdle(ctx); err != nil {
		h.t.Fatalf("WaitIdle: %v", err)
	}
}

// gate blocks a host call until released.
type gate struct {
	entered     chan struct{}
	release     chan struct{}
	enteredOnce sync.Once
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) pass() {
	g.enteredOnce.Do(func() { close(g.entered) })
	<-g.release
}

func (g *gate) waitEntered(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("gated call never started")
	}
}

// gatedHost is a vault whose Read and List can be held open, so tests can
// deliver events while derivation or a sync scan is in flight.
type gatedHost struct {
	*vault.FS

	mu    sync.Mutex
	reads map[string]*gate
	list  *gate
}

func newGatedHost(fs *vault.FS) *gatedHost {
	return &gatedHost{FS: fs, reads: make(map[string]*gate)}
}

func (g *gatedHost) gateRead(path string) *gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	gt := newGate()
	g.reads[path] = gt
	return gt
}

func (g *gatedHost) gateList() *gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.list = newGate()
	return g.list
}

func (g *gatedHost) Read(path string) ([]byte, error) {
	g.mu.Lock()
	gt := g.reads[path]
	delete(g.reads, path)
	g.mu.Unlock()
	if gt != nil {
		gt.pass()
	}
	return g.FS.Read(path)
}

// List takes its snapshot first and then waits, returning a stale listing.
func (g *gatedHost) List(ctx context.Context) ([]vault.Entry, error) {
	entries, err := g.FS.List(ctx)
	g.mu.Lock()
	gt := g.list
	g.list = nil
	g.mu.Unlock()
	if gt != nil {
		gt.pass()
	}
	return entries, err
}

type recorder struct {
	mu      sync.Mutex
	batches [][]models.ContentChange
}

func (r *recorder) record(changes []models.ContentChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, slices.Clone(changes))
}

func (r *recorder) all() []models.ContentChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ContentChange
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func TestCreateDerivesTagsAndPreview(t *testing.T) {
	h := newHarness(t)
	var (
		mu   sync.Mutex
		seen []models.ContentChange
	)
	unsub := h.cache.OnFileContentChange("notes/a.md", func(c models.ContentChange) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})
	defer unsub()

	h.cache.HandleEvent(h.write(models.EventCreate, "notes/a.md", "#work\n\nHello"))
	if rec := h.cache.GetFile("notes/a.md"); rec == nil {
		t.Fatal("record missing right after create")
	}
	if tags := h.cache.GetCachedTags("notes/a.md"); tags != nil {
		t.Errorf("tags before regeneration = %v, want nil", tags)
	}
	h.idle()

	if got := h.cache.GetCachedTags("notes/a.md"); !slices.Equal(got, []string{"work"}) {
		t.Errorf("tags = %v, want [work]", got)
	}
	text, err := h.cache.PreviewText("notes/a.md")
	if err != nil {
		t.Fatalf("PreviewText: %v", err)
	}
	if text != "Hello" {
		t.Errorf("preview = %q, want Hello", text)
	}
	rec := h.cache.GetFile("notes/a.md")
	if !rec.Ready() || rec.PreviewStatus != models.StatusHas {
		t.Errorf("record not ready: %+v", rec)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || !seen[0].TagsChanged || seen[0].Preview == nil || *seen[0].Preview != "Hello" {
		t.Errorf("notifications = %+v", seen)
	}
}

func TestNoTagsIsEmptyNotNil(t *testing.T) {
	h := newHarness(t)
	h.cache.HandleEvent(h.write(models.EventCreate, "plain.md", "just text"))
	h.idle()

	tags := h.cache.GetCachedTags("plain.md")
	if tags == nil || len(tags) != 0 {
		t.Errorf("tags = %#v, want empty non-nil", tags)
	}
}

func TestUnchangedEventIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ev := h.write(models.EventCreate, "a.md", "#x body")
	h.cache.HandleEvent(ev)
	h.idle()

	rec := &recorder{}
	defer h.cache.OnContentChange(rec.record)()

	ev.Kind = models.EventModify
	h.cache.HandleEvent(ev)
	h.cache.HandleEvent(ev)
	h.idle()

	if got := rec.all(); len(got) != 0 {
		t.Errorf("unchanged file produced notifications: %+v", got)
	}
	if n := h.cache.QueueLen(); n != 0 {
		t.Errorf("queue = %d, want 0", n)
	}
}

func TestModifyRemovingTagNotifies(t *testing.T) {
	h := newHarness(t)
	h.cache.HandleEvent(h.write(models.EventCreate, "a.md", "#work\n\nHello"))
	h.idle()

	var (
		mu   sync.Mutex
		seen []models.ContentChange
	)
	defer h.cache.OnFileContentChange("a.md", func(c models.ContentChange) {
		mu.Lock()
		seen = append(seen, c)
		mu.Unlock()
	})()

	h.cache.HandleEvent(h.write(models.EventModify, "a.md", "Hello again, no tags here"))
	h.idle()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("notifications = %d, want 1", len(seen))
	}
	c := seen[0]
	if !c.TagsChanged || c.Tags == nil || len(c.Tags) != 0 {
		t.Errorf("tags change = %v %#v, want empty non-nil", c.TagsChanged, c.Tags)
	}
	if c.Preview == nil || *c.Preview != "Hello again, no tags here" {
		t.Errorf("preview change = %v", c.Preview)
	}
}

func TestRenamePreservesContent(t *testing.T) {
	h := newHarness(t)
	ev := h.write(models.EventCreate, "a.md", "#keep\n\nBody")
	h.cache.HandleEvent(ev)
	h.idle()

	rec := &recorder{}
	defer h.cache.OnContentChange(rec.record)()

	if err := os.Rename(filepath.Join(h.dir, "a.md"), filepath.Join(h.dir, "b.md")); err != nil {
		t.Fatal(err)
	}
	h.cache.HandleEvent(models.FileEvent{Kind: models.EventRename, Path: "b.md", OldPath: "a.md", Stat: ev.Stat})

	if h.cache.GetFile("a.md") != nil {
		t.Error("old path still indexed")
	}
	if got := h.cache.GetCachedTags("b.md"); !slices.Equal(got, []string{"keep"}) {
		t.Errorf("tags at new path = %v", got)
	}
	if n := h.cache.QueueLen(); n != 0 {
		t.Errorf("rename queued %d regenerations", n)
	}
	h.idle()
	if text, _ := h.cache.PreviewText("b.md"); text != "Body" {
		t.Errorf("preview at new path = %q", text)
	}

	got := rec.all()
	if len(got) != 1 || got[0].Path != "b.md" || got[0].OldPath != "a.md" || got[0].TagsChanged || got[0].Preview != nil {
		t.Errorf("rename notifications = %+v", got)
	}
}

func TestFolderRenameAndDelete(t *testing.T) {
	h := newHarness(t)
	h.cache.HandleEvent(h.write(models.EventCreate, "proj/a.md", "#p one"))
	h.cache.HandleEvent(h.write(models.EventCreate, "proj/sub/b.md", "#p two"))
	h.cache.HandleEvent(h.write(models.EventCreate, "other.md", "three"))
	h.idle()

	h.cache.HandleEvent(models.FileEvent{Kind: models.EventRename, Path: "work", OldPath: "proj", IsDir: true})
	if got := h.cache.Paths("work/"); !slices.Equal(got, []string{"work/a.md", "work/sub/b.md"}) {
		t.Errorf("paths after folder rename = %v", got)
	}
	if h.cache.FolderExists("proj") {
		t.Error("old folder still indexed")
	}
	if got := h.cache.FilesWithTag("p"); len(got) != 2 {
		t.Errorf("tagged files = %v", got)
	}

	h.cache.HandleEvent(models.FileEvent{Kind: models.EventDelete, Path: "work", IsDir: true})
	if h.cache.Len() != 1 || !h.cache.FileExists("other.md") {
		t.Errorf("after folder delete: %v", h.cache.Paths(""))
	}
}

func TestStaleResultIsDiscarded(t *testing.T) {
	h := newHarness(t)
	ev := h.write(models.EventCreate, "a.md", "#old body")
	h.cache.HandleEvent(ev)
	h.idle()

	old := h.cache.GetFile("a.md").Fingerprint
	job := scheduler.Job{
		Path:        "a.md",
		Fields:      models.FieldTags,
		Fingerprint: models.Fingerprint{Size: old.Size + 1, MTime: old.MTime - 1000},
	}
	_, _, ok := h.cache.commit(derived{job: job, res: parser.Result{Tags: []string{"stale"}}})
	if ok {
		t.Fatal("stale result committed")
	}
	if got := h.cache.GetCachedTags("a.md"); !slices.Equal(got, []string{"old"}) {
		t.Errorf("tags = %v, want [old]", got)
	}
}

func TestDeleteEvictsEverything(t *testing.T) {
	h := newHarness(t)
	testutil.WriteFile(t, h.dir, "cover.svg", `<svg xmlns="http://www.w3.org/2000/svg"/>`)
	h.cache.HandleEvent(h.write(models.EventCreate, "a.md", "![[cover.svg]]\n\nText"))
	h.idle()

	rec := h.cache.GetFile("a.md")
	if rec.FeatureImageStatus != models.StatusHas || rec.FeatureImageKey != "cover.svg" {
		t.Fatalf("feature image = %q %v", rec.FeatureImageKey, rec.FeatureImageStatus)
	}
	blob, err := h.cache.GetFeatureImageBlob(context.Background(), "a.md", "cover.svg")
	if err != nil || blob == nil {
		t.Fatalf("GetFeatureImageBlob: %v %v", blob, err)
	}
	if blob.ContentType != "image/svg+xml" {
		t.Errorf("content type = %q", blob.ContentType)
	}
	if h.cache.blobs.Len() != 1 {
		t.Errorf("resident blobs = %d", h.cache.blobs.Len())
	}

	stale, err := h.cache.GetFeatureImageBlob(context.Background(), "a.md", "other.png")
	if err != nil || stale != nil {
		t.Errorf("unexpected blob for superseded key: %v %v", stale, err)
	}

	h.cache.HandleEvent(models.FileEvent{Kind: models.EventDelete, Path: "a.md"})
	if h.cache.GetFile("a.md") != nil {
		t.Error("record survived delete")
	}
	if h.cache.blobs.Len() != 0 || h.cache.texts.Len() != 0 {
		t.Errorf("caches not evicted: blobs=%d texts=%d", h.cache.blobs.Len(), h.cache.texts.Len())
	}
}

func TestRestartHydrates(t *testing.T) {
	h := newHarness(t)
	h.cache.HandleEvent(h.write(models.EventCreate, "a.md", "#saved\n\nPersisted preview"))
	h.idle()
	if err := h.cache.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if h.cache.Alive() {
		t.Error("alive after shutdown")
	}

	h.start("test")
	if h.cache.Rebuilt() {
		t.Error("store rebuilt on restart")
	}
	if got := h.cache.GetCachedTags("a.md"); !slices.Equal(got, []string{"saved"}) {
		t.Errorf("hydrated tags = %v", got)
	}
	// First read schedules a background load.
	_ = h.cache.GetCachedPreviewText("a.md")
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return h.cache.GetCachedPreviewText("a.md") == "Persisted preview"
	}, "preview never loaded from store")

	res, err := h.cache.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Queued != 0 {
		t.Errorf("sync queued %d unchanged files", res.Queued)
	}
}

func TestSyncReconciles(t *testing.T) {
	h := newHarness(t)
	h.cache.HandleEvent(h.write(models.EventCreate, "gone.md", "bye"))
	h.idle()
	if err := os.Remove(filepath.Join(h.dir, "gone.md")); err != nil {
		t.Fatal(err)
	}
	testutil.WriteFile(t, h.dir, "new.md", "#fresh")
	testutil.WriteFile(t, h.dir, ".hidden/x.md", "ignored")

	res, err := h.cache.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Scanned != 1 || res.Queued != 1 || res.Removed != 1 {
		t.Errorf("sync result = %+v", res)
	}
	h.idle()
	if !h.cache.TagExists("fresh") || h.cache.FileExists("gone.md") {
		t.Errorf("index after sync: %v", h.cache.Paths(""))
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.cache.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := h.cache.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	h.cache.HandleEvent(models.FileEvent{Kind: models.EventCreate, Path: "late.md"})
	if h.cache.FileExists("late.md") {
		t.Error("event applied after shutdown")
	}
	if _, err := h.cache.GetFeatureImageBlob(context.Background(), "a.md", "x.png"); err == nil {
		t.Error("expected ErrClosed")
	}
}

func TestRenameDuringRegenerationRequeues(t *testing.T) {
	h := newStoppedHarness(t)
	host := newGatedHost(h.fs)
	h.host = host
	h.start("test")

	g := host.gateRead("a.md")
	ev := h.write(models.EventCreate, "a.md", "#work\n\nHello")
	h.cache.HandleEvent(ev)
	g.waitEntered(t)

	if err := os.Rename(filepath.Join(h.dir, "a.md"), filepath.Join(h.dir, "b.md")); err != nil {
		t.Fatal(err)
	}
	h.cache.HandleEvent(models.FileEvent{Kind: models.EventRename, Path: "b.md", OldPath: "a.md", Stat: ev.Stat})
	close(g.release)
	h.idle()

	rec := h.cache.GetFile("b.md")
	if rec == nil {
		t.Fatal("renamed record missing")
	}
	if rec.Pending != 0 || rec.PreviewStatus != models.StatusHas {
		t.Errorf("record left pending: pending=%v preview=%v", rec.Pending, rec.PreviewStatus)
	}
	if !slices.Equal(rec.Tags, []string{"work"}) {
		t.Errorf("tags = %v, want [work]", rec.Tags)
	}
	if text, _ := h.cache.PreviewText("b.md"); text != "Hello" {
		t.Errorf("preview = %q, want Hello", text)
	}
}

func TestDeleteDuringBatchIsNotPersisted(t *testing.T) {
	h := newStoppedHarness(t)
	host := newGatedHost(h.fs)
	h.host = host
	h.start("test")

	// Hold the scheduler on a first file so a.md and b.md share the next batch.
	first := host.gateRead("0.md")
	h.cache.HandleEvent(h.write(models.EventCreate, "0.md", "first"))
	first.waitEntered(t)

	second := host.gateRead("b.md")
	h.cache.HandleEvent(h.write(models.EventCreate, "a.md", "#x\n\nalpha"))
	h.cache.HandleEvent(h.write(models.EventCreate, "b.md", "beta"))
	close(first.release)
	second.waitEntered(t)

	if err := os.Remove(filepath.Join(h.dir, "a.md")); err != nil {
		t.Fatal(err)
	}
	h.cache.HandleEvent(models.FileEvent{Kind: models.EventDelete, Path: "a.md"})
	close(second.release)
	h.idle()

	if h.cache.GetFile("a.md") != nil {
		t.Fatal("record survived delete")
	}
	if _, err := h.cache.db.Get("a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("store row for deleted file: err = %v", err)
	}
	if _, err := h.cache.db.Get("b.md"); err != nil {
		t.Errorf("store row for b.md: %v", err)
	}

	if err := h.cache.Shutdown(); err != nil {
		t.Fatal(err)
	}
	h.start("test")
	if h.cache.FileExists("a.md") {
		t.Error("deleted file hydrated after restart")
	}
}

func TestSyncYieldsToConcurrentEvents(t *testing.T) {
	h := newStoppedHarness(t)
	host := newGatedHost(h.fs)
	h.host = host
	h.start("test")
	h.cache.HandleEvent(h.write(models.EventCreate, "a.md", "#a body"))
	h.idle()

	g := host.gateList()
	type syncResult struct {
		res SyncResult
		err error
	}
	done := make(chan syncResult, 1)
	go func() {
		res, err := h.cache.Sync(context.Background())
		done <- syncResult{res, err}
	}()
	g.waitEntered(t)

	// Both happen after the listing was taken.
	if err := os.Remove(filepath.Join(h.dir, "a.md")); err != nil {
		t.Fatal(err)
	}
	h.cache.HandleEvent(models.FileEvent{Kind: models.EventDelete, Path: "a.md"})
	h.cache.HandleEvent(h.write(models.EventCreate, "late.md", "#late"))
	close(g.release)

	var r syncResult
	select {
	case r = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sync did not return")
	}
	if r.err != nil {
		t.Fatalf("Sync: %v", r.err)
	}
	h.idle()

	if rec := h.cache.GetFile("a.md"); rec != nil {
		t.Errorf("deleted file re-indexed by sync: pending=%v", rec.Pending)
	}
	if !h.cache.FileExists("late.md") {
		t.Error("file created during sync was removed")
	}
	if r.res.Removed != 0 {
		t.Errorf("removed = %d, want 0", r.res.Removed)
	}
}

func TestSharedBlobLoadKeepsHandle(t *testing.T) {
	h := newStoppedHarness(t)
	var (
		mu       sync.Mutex
		released []string
	)
	h.onBlobEvict = func(path string) {
		mu.Lock()
		released = append(released, path)
		mu.Unlock()
	}
	h.start("test")

	testutil.WriteFile(t, h.dir, "cover.svg", `<svg xmlns="http://www.w3.org/2000/svg"/>`)
	h.cache.HandleEvent(h.write(models.EventCreate, "a.md", "![[cover.svg]]\n\nText"))
	h.idle()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b, err := h.cache.GetFeatureImageBlob(context.Background(), "a.md", "cover.svg"); err != nil || b == nil {
				t.Errorf("GetFeatureImageBlob: %v %v", b, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	if len(released) != 0 {
		t.Errorf("resident blob released: %v", released)
	}
	mu.Unlock()
	if n := h.cache.blobs.Len(); n != 1 {
		t.Errorf("resident blobs = %d, want 1", n)
	}

	h.cache.HandleEvent(models.FileEvent{Kind: models.EventDelete, Path: "a.md"})
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(released, []string{"a.md"}) {
		t.Errorf("released after delete = %v, want [a.md]", released)
	}
}
