package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/middleware"
	"pixelmint/internal/storage"
	"pixelmint/internal/tempcache"
)

type fakeGenStore struct {
	records map[string]*domain.GenerationRecord
	lastJob *domain.Job
	fail    error
}

func newFakeGenStore() *fakeGenStore {
	return &fakeGenStore{records: make(map[string]*domain.GenerationRecord)}
}

func (s *fakeGenStore) Create(_ context.Context, rec *domain.GenerationRecord) error {
	s.records[rec.ID] = rec
	return nil
}

func (s *fakeGenStore) CreateWithJob(_ context.Context, rec *domain.GenerationRecord, job *domain.Job) error {
	if s.fail != nil {
		return s.fail
	}
	s.records[rec.ID] = rec
	s.lastJob = job
	return nil
}

func (s *fakeGenStore) GetByID(_ context.Context, id string) (*domain.GenerationRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (s *fakeGenStore) MarkProcessing(context.Context, string) error { return nil }
func (s *fakeGenStore) MarkCompleted(context.Context, string, []domain.OutputImage, int, int64, string) error {
	return nil
}
func (s *fakeGenStore) MarkFailed(context.Context, string, string) error { return nil }

type fakeLedger struct {
	balances map[string]int
	txs      []domain.TokenTransaction
}

func newFakeLedger() *fakeLedger { return &fakeLedger{balances: make(map[string]int)} }

func (l *fakeLedger) Balance(_ context.Context, userID string) (int, error) {
	return l.balances[userID], nil
}

func (l *fakeLedger) Debit(_ context.Context, userID string, amount int, reasonCode, referenceID string) (int, error) {
	if l.balances[userID] < amount {
		return 0, domain.ErrInsufficientBalance
	}
	l.balances[userID] -= amount
	l.append(userID, domain.TransactionDebit, amount, reasonCode, referenceID)
	return l.balances[userID], nil
}

func (l *fakeLedger) Credit(_ context.Context, userID string, amount int, reasonCode, referenceID string) (int, error) {
	l.balances[userID] += amount
	l.append(userID, domain.TransactionCredit, amount, reasonCode, referenceID)
	return l.balances[userID], nil
}

func (l *fakeLedger) append(userID string, kind domain.TransactionType, amount int, reason, ref string) {
	l.txs = append(l.txs, domain.TokenTransaction{
		ID:           fmt.Sprintf("tx-%d", len(l.txs)+1),
		UserID:       userID,
		Type:         kind,
		Amount:       amount,
		BalanceAfter: l.balances[userID],
		ReasonCode:   reason,
		ReferenceID:  ref,
	})
}

func (l *fakeLedger) Transactions(_ context.Context, userID string) ([]domain.TokenTransaction, error) {
	var out []domain.TokenTransaction
	for _, tx := range l.txs {
		if tx.UserID == userID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *fakeLedger) TransactionsByReference(_ context.Context, referenceID string) ([]domain.TokenTransaction, error) {
	var out []domain.TokenTransaction
	for _, tx := range l.txs {
		if tx.ReferenceID == referenceID {
			out = append(out, tx)
		}
	}
	return out, nil
}

type fakeUploads struct {
	byKey map[string]*domain.Upload
}

func newFakeUploads() *fakeUploads { return &fakeUploads{byKey: make(map[string]*domain.Upload)} }

func (u *fakeUploads) Create(_ context.Context, up *domain.Upload) error {
	u.byKey[up.UserID+"/"+up.StorageKey] = up
	return nil
}

func (u *fakeUploads) GetByKey(_ context.Context, userID, storageKey string) (*domain.Upload, error) {
	up, ok := u.byKey[userID+"/"+storageKey]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return up, nil
}

type memStore struct {
	objects map[string][]byte
	puts    int
}

func (s *memStore) Put(_ context.Context, data []byte, contentType, keyPrefix string) (storage.Object, error) {
	s.puts++
	key := fmt.Sprintf("%s/blob-%d", keyPrefix, s.puts)
	s.objects[key] = data
	return storage.Object{Key: key, URL: "https://cdn.test/" + key}, nil
}

func (s *memStore) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

func (s *memStore) URL(key string) string { return "https://cdn.test/" + key }

type testApp struct {
	app     *App
	gens    *fakeGenStore
	ledger  *fakeLedger
	uploads *fakeUploads
	store   *memStore
	cache   tempcache.Cache
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	cache, err := tempcache.NewMemoryCache(t.TempDir(), 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("new memory cache: %v", err)
	}
	gens := newFakeGenStore()
	ledger := newFakeLedger()
	uploads := newFakeUploads()
	store := &memStore{objects: make(map[string][]byte)}
	return &testApp{
		app: &App{
			Gens:         gens,
			Ledger:       ledger,
			Uploads:      uploads,
			Cache:        cache,
			Store:        store,
			Logger:       zerolog.Nop(),
			CostPerImage: 100,
		},
		gens:    gens,
		ledger:  ledger,
		uploads: uploads,
		store:   store,
		cache:   cache,
	}
}

func (ta *testApp) router() http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/generations", ta.app.SubmitGeneration)
	r.Get("/v1/generations/{id}", ta.app.GetGeneration)
	r.Post("/v1/uploads", ta.app.UploadImage)
	r.Get("/v1/tokens/balance", ta.app.TokenBalance)
	r.Get("/v1/tokens/transactions", ta.app.TokenTransactions)
	r.Post("/v1/tokens/credit", ta.app.CreditTokens)
	return r
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.ContextWithUserID(req.Context(), userID))
}

func postJSON(t *testing.T, h http.Handler, userID, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, asUser(req, userID))
	return rr
}

func TestSubmitGenerationAccepted(t *testing.T) {
	ta := newTestApp(t)
	ta.ledger.balances["user-1"] = 500

	rr := postJSON(t, ta.router(), "user-1", "/v1/generations", map[string]any{
		"kind":       "TEXT_ONLY",
		"prompt":     "a lighthouse at dusk",
		"imageCount": 2,
	})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp submitGenerationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "PENDING" || resp.GenerationID == "" || resp.JobID == "" {
		t.Fatalf("response = %+v", resp)
	}

	rec := ta.gens.records[resp.GenerationID]
	if rec == nil || rec.Status != domain.GenerationPending || rec.RequestedImageCount != 2 {
		t.Fatalf("record = %+v", rec)
	}
	job := ta.gens.lastJob
	if job == nil || job.Payload.GenerationID != resp.GenerationID || job.Payload.ImageCount != 2 {
		t.Fatalf("job = %+v", job)
	}
	if job.MaxAttempts != domain.DefaultMaxAttempts {
		t.Fatalf("max attempts = %d", job.MaxAttempts)
	}
}

func TestSubmitGenerationInsufficientBalance(t *testing.T) {
	ta := newTestApp(t)
	ta.ledger.balances["user-1"] = 150

	rr := postJSON(t, ta.router(), "user-1", "/v1/generations", map[string]any{
		"kind":       "TEXT_ONLY",
		"prompt":     "two images please",
		"imageCount": 2,
	})
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rr.Code)
	}
	if len(ta.gens.records) != 0 {
		t.Fatal("record created despite insufficient balance")
	}
}

func TestSubmitGenerationValidation(t *testing.T) {
	cases := []struct {
		name string
		body map[string]any
	}{
		{"empty prompt", map[string]any{"kind": "TEXT_ONLY", "prompt": "  "}},
		{"unknown kind", map[string]any{"kind": "HOLOGRAM", "prompt": "x"}},
		{"too many images", map[string]any{"kind": "TEXT_ONLY", "prompt": "x", "imageCount": 5}},
		{"text only with inputs", map[string]any{
			"kind": "TEXT_ONLY", "prompt": "x",
			"inputs": []map[string]string{{"storageKey": "k"}},
		}},
		{"single reference without input", map[string]any{"kind": "SINGLE_REFERENCE", "prompt": "x"}},
		{"single reference bad style", map[string]any{
			"kind": "SINGLE_REFERENCE", "prompt": "x", "refStyle": "silhouette",
			"inputs": []map[string]string{{"storageKey": "k"}},
		}},
		{"multi reference too few", map[string]any{
			"kind": "MULTI_REFERENCE", "prompt": "x",
			"inputs": []map[string]string{{"storageKey": "k"}},
		}},
		{"input without storage key", map[string]any{
			"kind": "SINGLE_REFERENCE", "prompt": "x",
			"inputs": []map[string]string{{"tempId": "t"}},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ta := newTestApp(t)
			ta.ledger.balances["user-1"] = 10000
			rr := postJSON(t, ta.router(), "user-1", "/v1/generations", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestSubmitGenerationUnknownReferenceRejected(t *testing.T) {
	ta := newTestApp(t)
	ta.ledger.balances["user-1"] = 500

	rr := postJSON(t, ta.router(), "user-1", "/v1/generations", map[string]any{
		"kind":   "SINGLE_REFERENCE",
		"prompt": "portrait",
		"inputs": []map[string]string{{"storageKey": "uploads/other-user/ref.png"}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestGetGenerationOwnership(t *testing.T) {
	ta := newTestApp(t)
	ta.gens.records["gen-1"] = &domain.GenerationRecord{
		ID:     "gen-1",
		UserID: "user-1",
		Kind:   domain.OpTextOnly,
		Status: domain.GenerationCompleted,
		Outputs: []domain.OutputImage{
			{StorageKey: "k", URL: "https://cdn.test/k", MIMEType: "image/png"},
		},
		TokensUsed: 100,
	}
	h := ta.router()

	req := httptest.NewRequest(http.MethodGet, "/v1/generations/gen-1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, asUser(req, "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("owner status = %d", rr.Code)
	}
	var resp generationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.TokensUsed != 100 || len(resp.Outputs) != 1 {
		t.Fatalf("response = %+v", resp)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/generations/gen-1", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, asUser(req, "user-2"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("other user status = %d, want 404", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/generations/nope", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, asUser(req, "user-1"))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", rr.Code)
	}
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func multipartUpload(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "ref.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestUploadImageStoresAndStages(t *testing.T) {
	ta := newTestApp(t)
	body, contentType := multipartUpload(t, append(pngHeader, []byte("fake image payload")...))

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	ta.router().ServeHTTP(rr, asUser(req, "user-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}

	var resp uploadResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StorageKey == "" || resp.URL == "" {
		t.Fatalf("response = %+v", resp)
	}
	if _, ok := ta.store.objects[resp.StorageKey]; !ok {
		t.Fatal("durable copy missing")
	}
	if _, err := ta.uploads.GetByKey(context.Background(), "user-1", resp.StorageKey); err != nil {
		t.Fatalf("upload metadata missing: %v", err)
	}
	if resp.TempID == "" {
		t.Fatal("staged copy not registered")
	}
	if _, err := ta.cache.Resolve(context.Background(), resp.TempID); err != nil {
		t.Fatalf("staged copy not resolvable: %v", err)
	}
}

func TestUploadImageRejectsUnsupportedType(t *testing.T) {
	ta := newTestApp(t)
	body, contentType := multipartUpload(t, []byte("%PDF-1.4 definitely not an image"))

	req := httptest.NewRequest(http.MethodPost, "/v1/uploads", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	ta.router().ServeHTTP(rr, asUser(req, "user-1"))
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rr.Code)
	}
	if ta.store.puts != 0 {
		t.Fatal("rejected upload reached durable storage")
	}
}

func TestTokenEndpoints(t *testing.T) {
	ta := newTestApp(t)
	h := ta.router()

	rr := postJSON(t, h, "user-1", "/v1/tokens/credit", map[string]any{"amount": 500})
	if rr.Code != http.StatusOK {
		t.Fatalf("credit status = %d", rr.Code)
	}
	var bal balanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &bal); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bal.Balance != 500 {
		t.Fatalf("balance after credit = %d", bal.Balance)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/tokens/balance", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, asUser(req, "user-1"))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "500") {
		t.Fatalf("balance status = %d body %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/tokens/transactions", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, asUser(req, "user-1"))
	if rr.Code != http.StatusOK {
		t.Fatalf("transactions status = %d", rr.Code)
	}
	var txResp struct {
		Transactions []transactionResponse `json:"transactions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &txResp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(txResp.Transactions) != 1 || txResp.Transactions[0].Type != "CREDIT" {
		t.Fatalf("transactions = %+v", txResp.Transactions)
	}

	rr = postJSON(t, h, "user-1", "/v1/tokens/credit", map[string]any{"amount": -5})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("negative credit status = %d, want 400", rr.Code)
	}
}

func TestEndpointsRequireUserContext(t *testing.T) {
	ta := newTestApp(t)
	h := ta.router()

	req := httptest.NewRequest(http.MethodGet, "/v1/tokens/balance", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}
