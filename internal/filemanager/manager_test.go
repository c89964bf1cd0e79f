package filemanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"alcyxob/filemanager/internal/logging"
	"alcyxob/filemanager/internal/payload"
	"alcyxob/filemanager/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage records every call in order. Keys are "key-<name>".
type fakeStorage struct {
	mu         sync.Mutex
	calls      []string
	failUpload map[string]error
	failDelete map[string]error
	failURL    map[string]error
	expiries   []time.Duration
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		failUpload: map[string]error{},
		failDelete: map[string]error{},
		failURL:    map[string]error{},
	}
}

func (f *fakeStorage) record(call string, expires time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	f.expiries = append(f.expiries, expires)
}

func (f *fakeStorage) IssueUploadGrant(_ context.Context, name string, expires time.Duration) (*storage.UploadGrant, error) {
	f.record("upload:"+name, expires)
	if err := f.failUpload[name]; err != nil {
		return nil, err
	}
	return &storage.UploadGrant{ObjectKey: "key-" + name, UploadURL: "https://put/" + name}, nil
}

func (f *fakeStorage) IssueDownloadURL(_ context.Context, key string, expires time.Duration) (string, error) {
	f.record("url:"+key, expires)
	if err := f.failURL[key]; err != nil {
		return "", err
	}
	return "https://get/" + key, nil
}

func (f *fakeStorage) DeleteObject(_ context.Context, key string) error {
	f.record("delete:"+key, 0)
	return f.failDelete[key]
}

func (f *fakeStorage) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStorage) count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func indexOf(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func TestCreateFilesFromPayload(t *testing.T) {
	fs := newFakeStorage()
	m := New(fs, WithUploadExpiry(10*time.Minute))

	p := payload.Map{
		"title": "loft",
		"cover": "cover.png",
		"gallery": []any{
			map[string]any{"image": "a.png"},
			map[string]any{"image": ""},
			map[string]any{"image": "c.png"},
		},
		"avatar": 12,
	}

	res, err := m.CreateFilesFromPayload(context.Background(), p, []string{"cover", "gallery[].image", "avatar", "missing.file"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"cover":           "https://put/cover.png",
		"gallery.0.image": "https://put/a.png",
		"gallery.2.image": "https://put/c.png",
	}, res.UploadURLs)

	assert.Equal(t, "key-cover.png", p["cover"])
	gallery := p["gallery"].([]any)
	assert.Equal(t, "key-a.png", gallery[0].(map[string]any)["image"])
	assert.Equal(t, "", gallery[1].(map[string]any)["image"])
	assert.Equal(t, "key-c.png", gallery[2].(map[string]any)["image"])
	assert.Equal(t, 12, p["avatar"])
	assert.NotContains(t, p, "missing")

	assert.ElementsMatch(t, []string{"upload:cover.png", "upload:a.png", "upload:c.png"}, fs.Calls())
	for _, e := range fs.expiries {
		assert.Equal(t, 10*time.Minute, e)
	}
}

func TestCreateThenAppendUsesIssuedKey(t *testing.T) {
	fs := newFakeStorage()
	m := New(fs)
	ctx := context.Background()

	p := payload.Map{"profile": map[string]any{"avatar": "me.jpg"}}
	_, err := m.CreateFilesFromPayload(ctx, p, []string{"profile.avatar"})
	require.NoError(t, err)

	view, err := m.AppendFileURLs(ctx, p, []string{"profile.avatar"})
	require.NoError(t, err)

	profile := view["profile"].(map[string]any)
	assert.Equal(t, "key-me.jpg", profile["avatar"])
	assert.Equal(t, "https://get/key-me.jpg", profile["avatar_url"])
	assert.Equal(t, []string{"upload:me.jpg", "url:key-me.jpg"}, fs.Calls())
}

func TestAppendFileURLsAllPreservesOrder(t *testing.T) {
	fs := newFakeStorage()
	m := New(fs, WithDownloadExpiry(time.Hour))

	items := []payload.Payload{
		payload.Map{"cover": "k1", "tags": []any{"t1"}},
		payload.Map{"cover": ""},
		payload.Map{"cover": "k3", "docs": []any{map[string]any{"file": "d3"}}},
	}
	views, err := m.AppendFileURLsAll(context.Background(), items, []string{"cover", "docs[].file", "tags[]"})
	require.NoError(t, err)
	require.Len(t, views, 3)

	assert.Equal(t, "https://get/k1", views[0]["cover_url"])
	assert.NotContains(t, views[1], "cover_url")
	assert.Equal(t, "https://get/k3", views[2]["cover_url"])
	doc := views[2]["docs"].([]any)[0].(map[string]any)
	assert.Equal(t, "https://get/d3", doc["file_url"])

	// String-array elements have nowhere to put a display url.
	assert.Equal(t, 0, fs.count("url:t1"))
	assert.ElementsMatch(t, []string{"url:k1", "url:k3", "url:d3"}, fs.Calls())
}

func TestAppendFileURLsOnDocumentLeavesOriginal(t *testing.T) {
	type rec struct {
		Cover string `bson:"cover"`
	}
	r := &rec{Cover: "k1"}
	view, err := New(newFakeStorage()).AppendFileURLs(context.Background(), payload.NewDocument(r), []string{"cover"})
	require.NoError(t, err)
	assert.Equal(t, "https://get/k1", view["cover_url"])
	assert.Equal(t, "k1", r.Cover)
}

func TestAppendFileURLsPropagatesError(t *testing.T) {
	fs := newFakeStorage()
	boom := errors.New("presign failed")
	fs.failURL["k2"] = boom

	_, err := New(fs).AppendFileURLsAll(context.Background(), []payload.Payload{
		payload.Map{"cover": "k1"},
		payload.Map{"cover": "k2"},
	}, []string{"cover"})
	assert.ErrorIs(t, err, boom)
}

func TestUpdateUnchangedIsNoop(t *testing.T) {
	for _, x := range []string{"key123", "a.png", "x"} {
		fs := newFakeStorage()
		p := payload.Map{"file": x}
		res, err := New(fs).UpdateFilesFromPayload(context.Background(), p, payload.Map{"file": x}, []string{"file"})
		require.NoError(t, err)
		assert.Empty(t, res.UploadURLs)
		assert.Equal(t, x, p["file"])
		assert.Empty(t, fs.Calls())
	}
}

func TestUpdateClearDeletesOld(t *testing.T) {
	fs := newFakeStorage()
	p := payload.Map{"file": ""}

	res, err := New(fs).UpdateFilesFromPayload(context.Background(), p, payload.Map{"file": "key123"}, []string{"file"})
	require.NoError(t, err)
	assert.Empty(t, res.UploadURLs)
	assert.Equal(t, "", p["file"])
	assert.Equal(t, []string{"delete:key123"}, fs.Calls())
}

func TestUpdateReplaceUploadsBeforeDelete(t *testing.T) {
	fs := newFakeStorage()
	p := payload.Map{"file": "file.png"}

	res, err := New(fs).UpdateFilesFromPayload(context.Background(), p, payload.Map{"file": "key123"}, []string{"file"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"file": "https://put/file.png"}, res.UploadURLs)
	assert.Equal(t, "key-file.png", p["file"])

	calls := fs.Calls()
	require.Equal(t, []string{"upload:file.png", "delete:key123"}, calls)
}

func TestUpdateFailedUploadKeepsOld(t *testing.T) {
	fs := newFakeStorage()
	boom := errors.New("presign failed")
	fs.failUpload["file.png"] = boom
	p := payload.Map{"file": "file.png"}

	_, err := New(fs).UpdateFilesFromPayload(context.Background(), p, payload.Map{"file": "key123"}, []string{"file"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, fs.count("delete:"))
	assert.Equal(t, "file.png", p["file"])
}

func TestUpdateNewFileWithoutOld(t *testing.T) {
	fs := newFakeStorage()
	p := payload.Map{"file": "file.png"}

	_, err := New(fs).UpdateFilesFromPayload(context.Background(), p, payload.Map{}, []string{"file"})
	require.NoError(t, err)
	assert.Equal(t, []string{"upload:file.png"}, fs.Calls())
}

func TestUpdateArrayDiff(t *testing.T) {
	fs := newFakeStorage()
	existing := payload.Map{"items": []any{
		map[string]any{"ref": "k0"},
		map[string]any{"ref": "k1"},
		map[string]any{"ref": "k2"},
	}}
	p := payload.Map{"items": []any{
		map[string]any{"ref": "k0"},
		map[string]any{"ref": "new.png"},
		map[string]any{"ref": ""},
		map[string]any{"ref": 5},
	}}

	res, err := New(fs).UpdateFilesFromPayload(context.Background(), p, existing, []string{"items[].ref"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"items.1.ref": "https://put/new.png"}, res.UploadURLs)

	calls := fs.Calls()
	assert.ElementsMatch(t, []string{"upload:new.png", "delete:k1", "delete:k2"}, calls)
	assert.Less(t, indexOf(calls, "upload:new.png"), indexOf(calls, "delete:k1"))

	items := p["items"].([]any)
	assert.Equal(t, "k0", items[0].(map[string]any)["ref"])
	assert.Equal(t, "key-new.png", items[1].(map[string]any)["ref"])
	assert.Equal(t, "", items[2].(map[string]any)["ref"])
}

func TestUpdateOnDocuments(t *testing.T) {
	type photo struct {
		Key string `bson:"key"`
	}
	type rec struct {
		Cover  string  `bson:"cover"`
		Photos []photo `bson:"photos"`
	}
	old := &rec{Cover: "old-cover", Photos: []photo{{Key: "p0"}}}
	updated := &rec{Cover: "new cover.png", Photos: []photo{{Key: ""}}}
	fs := newFakeStorage()

	res, err := New(fs).UpdateFilesFromPayload(context.Background(),
		payload.NewDocument(updated), payload.NewDocument(old), []string{"cover", "photos[].key"})
	require.NoError(t, err)

	assert.Equal(t, "key-new cover.png", updated.Cover)
	assert.Equal(t, "", updated.Photos[0].Key)
	assert.Contains(t, res.UploadURLs, "cover")
	assert.ElementsMatch(t, []string{"upload:new cover.png", "delete:old-cover", "delete:p0"}, fs.Calls())
}

func TestDeleteFilesFromPayload(t *testing.T) {
	fs := newFakeStorage()
	p := payload.Map{
		"cover":   "k-cover",
		"blank":   "",
		"gallery": []any{map[string]any{"image": "k-a"}, map[string]any{"image": ""}},
		"count":   3,
	}
	before := fmt.Sprint(p)

	err := New(fs).DeleteFilesFromPayload(context.Background(), p, []string{"cover", "blank", "gallery[].image", "count"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"delete:k-cover", "delete:k-a"}, fs.Calls())
	assert.Equal(t, before, fmt.Sprint(p))
}

func TestNonArrayWildcardMakesNoCalls(t *testing.T) {
	fs := newFakeStorage()
	m := New(fs)
	ctx := context.Background()
	fields := []string{"items[].ref"}

	for _, p := range []payload.Map{{}, {"items": "scalar"}, {"items": map[string]any{"ref": "x"}}} {
		res, err := m.CreateFilesFromPayload(ctx, p, fields)
		require.NoError(t, err)
		assert.Empty(t, res.UploadURLs)
		require.NoError(t, m.DeleteFilesFromPayload(ctx, p, fields))
		_, err = m.AppendFileURLs(ctx, p, fields)
		require.NoError(t, err)
	}
	assert.Empty(t, fs.Calls())
}

func TestFanOutFailureDoesNotCancelSiblings(t *testing.T) {
	fs := newFakeStorage()
	boom := errors.New("bucket unavailable")
	fs.failUpload["b.png"] = boom

	p := payload.Map{"a": "a.png", "b": "b.png", "c": "c.png"}
	res, err := New(fs).CreateFilesFromPayload(context.Background(), p, []string{"a", "b", "c"})
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b")

	assert.ElementsMatch(t, []string{"upload:a.png", "upload:b.png", "upload:c.png"}, fs.Calls())
	// Not transactional: the successful siblings stay rewritten.
	assert.Equal(t, "key-a.png", p["a"])
	assert.Equal(t, "b.png", p["b"])
	assert.Equal(t, "key-c.png", p["c"])
}

func TestInvalidFieldSpecFailsBeforeBackend(t *testing.T) {
	fs := newFakeStorage()
	m := New(fs)
	ctx := context.Background()
	p := payload.Map{"a": []any{map[string]any{"b": []any{map[string]any{"c": "x"}}}}}
	fields := []string{"a[].b[].c"}

	_, err := m.CreateFilesFromPayload(ctx, p, fields)
	assert.ErrorIs(t, err, payload.ErrNestedWildcard)
	_, err = m.UpdateFilesFromPayload(ctx, p, payload.Map{}, fields)
	assert.ErrorIs(t, err, payload.ErrNestedWildcard)
	assert.ErrorIs(t, m.DeleteFilesFromPayload(ctx, p, fields), payload.ErrNestedWildcard)
	_, err = m.AppendFileURLs(ctx, p, fields)
	assert.ErrorIs(t, err, payload.ErrNestedWildcard)
	assert.Empty(t, fs.Calls())
}

func TestConcurrencyLimit(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	gate := &gatedStorage{fakeStorage: newFakeStorage(), enter: func() {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}}

	p := payload.Map{}
	var fields []string
	for i := 0; i < 10; i++ {
		k := fmt.Sprintf("f%d", i)
		p[k] = k + ".png"
		fields = append(fields, k)
	}
	res, err := New(gate, WithConcurrency(2)).CreateFilesFromPayload(context.Background(), p, fields)
	require.NoError(t, err)
	assert.Len(t, res.UploadURLs, 10)
	assert.LessOrEqual(t, peak, 2)
}

type gatedStorage struct {
	*fakeStorage
	enter func()
}

func (g *gatedStorage) IssueUploadGrant(ctx context.Context, name string, expires time.Duration) (*storage.UploadGrant, error) {
	g.enter()
	return g.fakeStorage.IssueUploadGrant(ctx, name, expires)
}

func TestLogsCarryRequestFields(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := New(newFakeStorage(), WithLogger(logger.WithField("component", "files")))

	ctx := logging.WithLogger(context.Background(), logger.WithField("request_id", "r-7"))
	_, err := m.CreateFilesFromPayload(ctx, payload.Map{"cover": "a.png"}, []string{"cover"})
	require.NoError(t, err)

	entries := hook.AllEntries()
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "r-7", e.Data["request_id"])
		assert.Equal(t, "files", e.Data["component"])
	}
	assert.Equal(t, "cover", hook.LastEntry().Data["leaf"])
}
