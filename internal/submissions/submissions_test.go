package submissions

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/google/uuid"

	"deepreef/internal/db"
	"deepreef/internal/models"
	"deepreef/internal/objectstore"
	"deepreef/internal/query"
	"deepreef/internal/store"
	"deepreef/internal/ws"
)

type fixedRunStatus map[string][]models.RunStatus

func (f fixedRunStatus) RunStatus(id string) []models.RunStatus {
	if rs, ok := f[id]; ok {
		return rs
	}
	return []models.RunStatus{}
}

type testEnv struct {
	svc     *Service
	store   *store.Store
	objects *objectstore.Memory
	hub     *ws.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gormDB, err := db.Open(db.Config{
		Backend:    db.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "deepreef.db"),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("open sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	env := &testEnv{
		store:   store.New(gormDB, store.Options{}),
		objects: objectstore.NewMemory(),
		hub:     ws.NewHub(),
	}
	env.svc = New(Options{
		Store:   env.store,
		Objects: env.objects,
		Prefix:  "reef",
		Hub:     env.hub,
	})
	return env
}

func upload(name, content string) Upload {
	return Upload{Filename: name, Size: int64(len(content)), ContentType: "video/mp4", Body: strings.NewReader(content)}
}

func countSubmissions(t *testing.T, st *store.Store) int64 {
	t.Helper()
	q, err := query.Parse(store.SubmissionFields, query.Params{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, total, err := st.ListSubmissions(context.Background(), q)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return total
}

func TestCreateUploadsEveryFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.svc.Create(ctx, CreateInput{Files: []Upload{
		upload("dive-1.mp4", "aaaa"),
		upload("dive-2.mp4", "bbbbbb"),
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := uuid.Parse(sub.ID); err != nil {
		t.Fatalf("id %q is not a UUID", sub.ID)
	}
	if len(sub.Inputs) != 2 {
		t.Fatalf("inputs=%+v", sub.Inputs)
	}
	if sub.Inputs[0].Filename != "dive-1.mp4" || sub.Inputs[0].Key != "reef/"+sub.ID+"/inputs/dive-1.mp4" {
		t.Fatalf("first input=%+v", sub.Inputs[0])
	}

	data, meta, ok := env.objects.Get("reef/" + sub.ID + "/inputs/dive-2.mp4")
	if !ok || string(data) != "bbbbbb" {
		t.Fatalf("object missing or wrong: ok=%v data=%q", ok, data)
	}
	if meta["submission-id"] != sub.ID || meta["batch-id"] == "" {
		t.Fatalf("metadata=%v", meta)
	}
	_, meta1, _ := env.objects.Get("reef/" + sub.ID + "/inputs/dive-1.mp4")
	if meta1["batch-id"] != meta["batch-id"] {
		t.Fatalf("files of one create must share a batch id")
	}

	got, err := env.svc.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Inputs) != 2 || got.RunStatus == nil {
		t.Fatalf("get=%+v", got)
	}
}

func TestCreateRejectsBadFileSets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		files []Upload
		want  error
	}{
		{"none", nil, ErrNoFiles},
		{"duplicate", []Upload{upload("a.mp4", "1"), upload("b.mp4", "2"), upload("a.mp4", "3")}, ErrDuplicateFilename},
		{"path", []Upload{upload("../a.mp4", "1")}, ErrInvalidFilename},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.Create(ctx, CreateInput{Files: tc.files})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
	if n := countSubmissions(t, env.store); n != 0 {
		t.Fatalf("submissions=%d, want 0", n)
	}
	if env.objects.Len() != 0 {
		t.Fatalf("objects=%d, want 0", env.objects.Len())
	}
}

func TestCreateRollsBackOnUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.objects.FailPut = func(key string) error {
		if strings.HasSuffix(key, "/second.mp4") {
			return errors.New("503 SlowDown")
		}
		return nil
	}

	_, err := env.svc.Create(context.Background(), CreateInput{Files: []Upload{
		upload("first.mp4", "1111"),
		upload("second.mp4", "2222"),
		upload("third.mp4", "3333"),
	}})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("err=%v, want ErrUploadFailed", err)
	}
	if n := countSubmissions(t, env.store); n != 0 {
		t.Fatalf("submissions=%d, want 0 after rollback", n)
	}
	if env.objects.Len() != 0 {
		t.Fatalf("objects=%d, want 0 after rollback", env.objects.Len())
	}
}

func TestCreateRollsBackOnCancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	env.objects.FailPut = func(key string) error {
		if strings.HasSuffix(key, "/b.mp4") {
			cancel()
			return context.Canceled
		}
		return nil
	}

	_, err := env.svc.Create(ctx, CreateInput{Files: []Upload{upload("a.mp4", "1"), upload("b.mp4", "2")}})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("err=%v, want ErrUploadFailed", err)
	}
	if env.objects.Len() != 0 {
		t.Fatalf("objects=%d, want 0", env.objects.Len())
	}
	if n := countSubmissions(t, env.store); n != 0 {
		t.Fatalf("submissions=%d, want 0", n)
	}
}

func TestCreateWithUnknownTransect(t *testing.T) {
	env := newTestEnv(t)
	tid := uuid.NewString()
	_, err := env.svc.Create(context.Background(), CreateInput{
		Files:      []Upload{upload("a.mp4", "1")},
		TransectID: &tid,
	})
	if !errors.Is(err, store.ErrInvalidReference) {
		t.Fatalf("err=%v, want ErrInvalidReference", err)
	}
	if env.objects.Len() != 0 {
		t.Fatalf("objects=%d, want 0", env.objects.Len())
	}
}

func TestCreateSniffsContentType(t *testing.T) {
	env := newTestEnv(t)
	body := "timestamp,depth\n1,10\n2,12\n"
	sub, err := env.svc.Create(context.Background(), CreateInput{Files: []Upload{
		{Filename: "log.csv", Body: strings.NewReader(body)},
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	data, _, ok := env.objects.Get("reef/" + sub.ID + "/inputs/log.csv")
	if !ok || string(data) != body {
		t.Fatalf("object body=%q ok=%v", data, ok)
	}
	if sub.Inputs[0].Size != int64(len(body)) {
		t.Fatalf("size=%d, want %d", sub.Inputs[0].Size, len(body))
	}
}

func TestGetMissingSubmission(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Get(context.Background(), uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestGetDegradesWhenListingFails(t *testing.T) {
	env := newTestEnv(t)
	sub, err := env.svc.Create(context.Background(), CreateInput{Files: []Upload{upload("a.mp4", "1")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.objects.FailList = errors.New("bucket unreachable")
	got, err := env.svc.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != sub.ID || got.Inputs == nil || len(got.Inputs) != 0 {
		t.Fatalf("get=%+v", got)
	}
}

func TestGetCarriesRunStatus(t *testing.T) {
	env := newTestEnv(t)
	sub, err := env.svc.Create(context.Background(), CreateInput{Files: []Upload{upload("a.mp4", "1")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	env.svc.jobs = fixedRunStatus{sub.ID: {{SubmissionID: "deepreef-" + sub.ID, Status: "Running"}}}
	got, err := env.svc.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.RunStatus) != 1 || got.RunStatus[0].Status != "Running" {
		t.Fatalf("run status=%+v", got.RunStatus)
	}
}

func body(t *testing.T, v map[string]any) map[string]json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return out
}

func TestUpdateIgnoresCoordinates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, err := env.svc.Create(ctx, CreateInput{Files: []Upload{upload("a.mp4", "1")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := env.svc.Update(ctx, sub.ID, body(t, map[string]any{"name": "x", "latitude": 5}))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Name == nil || *got.Name != "x" {
		t.Fatalf("name=%v, want x", got.Name)
	}
	if got.Latitude != nil || got.Longitude != nil {
		t.Fatalf("coordinates changed: lat=%v lon=%v", got.Latitude, got.Longitude)
	}
	if got.Comment != nil || got.Status != nil {
		t.Fatalf("unrelated fields changed: %+v", got)
	}
}

func TestUpdateClearsAndValidatesFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, err := env.svc.Create(ctx, CreateInput{Files: []Upload{upload("a.mp4", "1")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.svc.Update(ctx, sub.ID, body(t, map[string]any{"comment": "murky"})); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := env.svc.Update(ctx, sub.ID, body(t, map[string]any{"comment": nil}))
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got.Comment != nil {
		t.Fatalf("comment=%q, want null", *got.Comment)
	}

	bad := []map[string]any{
		{"colour": "blue"},
		{"name": 12},
		{"transect_id": "not-a-uuid"},
	}
	for _, b := range bad {
		if _, err := env.svc.Update(ctx, sub.ID, body(t, b)); !errors.Is(err, ErrInvalidField) {
			t.Fatalf("update %v err=%v, want ErrInvalidField", b, err)
		}
	}
}

func TestUpdateMissingSubmission(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Update(context.Background(), uuid.NewString(), body(t, map[string]any{"name": "x"}))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}

func TestUpdateVideoStoresRows(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, err := env.svc.Create(ctx, CreateInput{Files: []Upload{upload("a.mp4", "1")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	csvDoc := "frame,species\n1,\"Acropora, branching\"\n2,Porites\n"
	payload := "data:text/csv;base64," + base64.StdEncoding.EncodeToString([]byte(csvDoc))
	if _, err := env.svc.Update(ctx, sub.ID, body(t, map[string]any{"video": payload})); err != nil {
		t.Fatalf("update: %v", err)
	}
	data, err := env.svc.Data(ctx, sub.ID)
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	want := [][]string{{"frame", "species"}, {"1", "Acropora, branching"}, {"2", "Porites"}}
	if !reflect.DeepEqual(data.Rows, want) {
		t.Fatalf("rows=%v, want %v", data.Rows, want)
	}

	png := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'})
	if _, err := env.svc.Update(ctx, sub.ID, body(t, map[string]any{"video": png})); !errors.Is(err, ErrUnsupportedPayload) {
		t.Fatalf("err=%v, want ErrUnsupportedPayload", err)
	}
	data, err = env.svc.Data(ctx, sub.ID)
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if len(data.Rows) != 3 {
		t.Fatalf("rejected payload replaced rows: %v", data.Rows)
	}
}

func TestDecodeCSVPayload(t *testing.T) {
	plain := base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n3,4\n"))
	rows, err := DecodeCSVPayload(plain)
	if err != nil {
		t.Fatalf("sniffed csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows=%v", rows)
	}

	rows, err = DecodeCSVPayload(base64.StdEncoding.EncodeToString([]byte("frame,depth,12.5")))
	if err != nil {
		t.Fatalf("single-row csv: %v", err)
	}
	if len(rows) != 1 || len(rows[0]) != 3 || rows[0][2] != "12.5" {
		t.Fatalf("rows=%v", rows)
	}
	if _, err := DecodeCSVPayload(base64.StdEncoding.EncodeToString([]byte("a,\"b\n"))); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("err=%v, want ErrInvalidField for unterminated quote", err)
	}

	if _, err := DecodeCSVPayload(base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})); !errors.Is(err, ErrUnsupportedPayload) {
		t.Fatalf("err=%v, want ErrUnsupportedPayload", err)
	}
	if _, err := DecodeCSVPayload("data:text/csv,a,b"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("err=%v, want ErrInvalidField for non-base64 data URL", err)
	}
	if _, err := DecodeCSVPayload("!!!"); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("err=%v, want ErrInvalidField for bad base64", err)
	}
}

func TestDeleteSubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	sub, err := env.svc.Create(ctx, CreateInput{Files: []Upload{upload("a.mp4", "1")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	events, _ := env.hub.SubscribeFrom(0, []string{"submission"})
	defer env.hub.Unsubscribe(events)

	deleted, err := env.svc.Delete(ctx, sub.ID)
	if err != nil || !deleted {
		t.Fatalf("delete: deleted=%v err=%v", deleted, err)
	}
	if _, err := env.svc.Get(ctx, sub.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err=%v", err)
	}
	// blobs are left in place
	if env.objects.Len() != 1 {
		t.Fatalf("objects=%d, want 1", env.objects.Len())
	}

	deleted, err = env.svc.Delete(ctx, uuid.NewString())
	if err != nil || deleted {
		t.Fatalf("delete of missing id: deleted=%v err=%v", deleted, err)
	}

	msg := <-events.Messages()
	if !bytes.Contains(msg.Data, []byte(ws.EventSubmissionDeleted)) {
		t.Fatalf("event=%s", msg.Data)
	}
	if len(events.Messages()) != 0 {
		t.Fatalf("missing delete must not publish")
	}
}
