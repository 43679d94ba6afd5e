package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"key-release-service/config"
	"key-release-service/internal/auth"
	"key-release-service/internal/cipher"
	"key-release-service/internal/domain"
	"key-release-service/internal/infra"
	"key-release-service/internal/usecase"
)

const testContract = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// mockPayloadRepository はテスト用のモックリポジトリ。
type mockPayloadRepository struct {
	mu       sync.Mutex
	payloads map[string]*domain.EncryptedPayload
	listErr  error
}

func (m *mockPayloadRepository) Create(ctx context.Context, p *domain.EncryptedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.CreatedAt = time.Now()
	m.payloads[p.ID] = p
	return nil
}

func (m *mockPayloadRepository) FindByID(ctx context.Context, id string) (*domain.EncryptedPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.payloads[id], nil
}

func (m *mockPayloadRepository) List(ctx context.Context, limit int) ([]*domain.EncryptedPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []*domain.EncryptedPayload
	for _, p := range m.payloads {
		result = append(result, p)
	}
	return result, nil
}

// mockChain は全ての呼び出しに同じ残高を返す。
type mockChain struct {
	balance int64
	err     error
}

func (m *mockChain) Call(ctx context.Context, spec domain.RawCallSpec) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return common.LeftPadBytes(big.NewInt(m.balance).Bytes(), 32), nil
}

type testEnv struct {
	router http.Handler
	repo   *mockPayloadRepository
	chain  *mockChain
	signer *auth.KeySigner
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	wrapper, err := infra.NewLocalWrapper(strings.Repeat("22", cipher.KeySize))
	if err != nil {
		t.Fatalf("NewLocalWrapper failed: %v", err)
	}
	signer, err := auth.GenerateKeySigner()
	if err != nil {
		t.Fatalf("GenerateKeySigner failed: %v", err)
	}

	repo := &mockPayloadRepository{payloads: make(map[string]*domain.EncryptedPayload)}
	chain := &mockChain{}
	payloads := usecase.NewPayloadService(repo, wrapper)
	release := usecase.NewReleaseService(repo, auth.NewVerifier(auth.DefaultEVMChains), chain, wrapper)

	return &testEnv{
		router: NewRouter(NewPayloadHandler(payloads), NewReleaseHandler(release), &config.Config{}),
		repo:   repo,
		chain:  chain,
		signer: signer,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sealBody(t *testing.T, plaintext []byte) (SealRequest, []byte) {
	t.Helper()
	key, err := cipher.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	ct, err := cipher.Encrypt(plaintext, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	return SealRequest{
		Ciphertext:   base64.StdEncoding.EncodeToString(ct),
		SymmetricKey: base64.StdEncoding.EncodeToString(key),
		Operator:     domain.OperatorAnd,
		Conditions: []domain.AccessCondition{{
			ContractAddress: testContract,
			Chain:           "ethereum",
			Standard:        domain.StandardERC721,
			Method:          "balanceOf",
			Parameters:      []domain.Param{domain.CallerAddress()},
			ReturnValueTest: domain.ReturnValueTest{Comparator: domain.ComparatorGT, Value: "0"},
		}},
	}, key
}

func (e *testEnv) seal(t *testing.T) (string, []byte) {
	t.Helper()
	body, key := sealBody(t, []byte("members only"))
	rec := e.do(t, http.MethodPost, "/v1/payloads", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp PayloadMetadataResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	return resp.PayloadID, key
}

func (e *testEnv) releaseRequest(t *testing.T) ReleaseRequest {
	t.Helper()
	a, err := auth.NewAssertion(e.signer, "ethereum", time.Now(), 5*time.Minute)
	if err != nil {
		t.Fatalf("NewAssertion failed: %v", err)
	}
	return ReleaseRequest{Address: a.Address, Message: a.Message, Signature: a.Signature, Chain: a.Chain, Expiry: a.Expiry}
}

func TestSealPayload_Success(t *testing.T) {
	e := setupEnv(t)

	body, _ := sealBody(t, []byte("hello"))
	rec := e.do(t, http.MethodPost, "/v1/payloads", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("want status 201, got %d", rec.Code)
	}

	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["condition_count"] != float64(1) {
		t.Errorf("want condition_count 1, got %v", resp["condition_count"])
	}
	if resp["key_wrapper"] != "local" {
		t.Errorf("want key_wrapper local, got %v", resp["key_wrapper"])
	}
	if _, ok := resp["symmetric_key"]; ok {
		t.Error("response must not echo the key")
	}
}

func TestSealPayload_InvalidCondition(t *testing.T) {
	e := setupEnv(t)

	body, _ := sealBody(t, []byte("hello"))
	body.Conditions[0].Method = "ownerOf"
	rec := e.do(t, http.MethodPost, "/v1/payloads", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["code"] != "INVALID_CONDITION" {
		t.Errorf("want INVALID_CONDITION, got %v", resp["code"])
	}
}

func TestSealPayload_BadBody(t *testing.T) {
	e := setupEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/payloads", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}

	body, _ := sealBody(t, []byte("hello"))
	body.SymmetricKey = "***"
	if rec := e.do(t, http.MethodPost, "/v1/payloads", body); rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400 for bad base64, got %d", rec.Code)
	}
}

func TestGetPayload(t *testing.T) {
	e := setupEnv(t)
	id, _ := e.seal(t)

	h := NewPayloadHandler(usecase.NewPayloadService(e.repo, nil))
	req := httptest.NewRequest(http.MethodGet, "/v1/payloads/"+id, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("payload_id", id)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h.GetPayload(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp PayloadResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.PayloadID != id {
		t.Errorf("want payload_id %s, got %s", id, resp.PayloadID)
	}
	if len(resp.Conditions) != 1 || resp.Conditions[0].Parameters[0].Kind != domain.ParamCallerAddress {
		t.Errorf("unexpected conditions: %+v", resp.Conditions)
	}
}

func TestGetPayload_Errors(t *testing.T) {
	e := setupEnv(t)

	if rec := e.do(t, http.MethodGet, "/v1/payloads/not-a-uuid", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400, got %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/v1/payloads/"+uuid.New().String(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("want status 404, got %d", rec.Code)
	}
}

func TestListPayloads(t *testing.T) {
	e := setupEnv(t)
	e.seal(t)
	e.seal(t)

	rec := e.do(t, http.MethodGet, "/v1/payloads?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	var resp PayloadListResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Payloads) != 2 {
		t.Errorf("want 2 payloads, got %d", len(resp.Payloads))
	}

	if rec := e.do(t, http.MethodGet, "/v1/payloads?limit=abc", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("want status 400 for bad limit, got %d", rec.Code)
	}
}

func TestRelease_Granted(t *testing.T) {
	e := setupEnv(t)
	e.chain.balance = 2
	id, key := e.seal(t)

	rec := e.do(t, http.MethodPost, "/v1/payloads/"+id+"/release", e.releaseRequest(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ReleaseResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Granted {
		t.Error("want granted")
	}
	if resp.Key != base64.StdEncoding.EncodeToString(key) {
		t.Error("released key does not match")
	}
}

func TestRelease_Denied(t *testing.T) {
	e := setupEnv(t)
	e.chain.balance = 0
	id, _ := e.seal(t)

	rec := e.do(t, http.MethodPost, "/v1/payloads/"+id+"/release", e.releaseRequest(t))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("want status 403, got %d", rec.Code)
	}
	var resp ReleaseResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Granted || resp.Key != "" {
		t.Error("denied response must not carry a key")
	}
	if !strings.Contains(resp.Reason, "condition[0]") {
		t.Errorf("want reason naming condition[0], got %q", resp.Reason)
	}
}

func TestRelease_BadSignatureIsDenied(t *testing.T) {
	e := setupEnv(t)
	e.chain.balance = 5
	id, _ := e.seal(t)

	req := e.releaseRequest(t)
	req.Signature = "0x1234"
	rec := e.do(t, http.MethodPost, "/v1/payloads/"+id+"/release", req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("want status 403, got %d", rec.Code)
	}
}

func TestRelease_ProviderUnavailable(t *testing.T) {
	e := setupEnv(t)
	e.chain.err = domain.ErrProviderUnavailable
	id, _ := e.seal(t)

	rec := e.do(t, http.MethodPost, "/v1/payloads/"+id+"/release", e.releaseRequest(t))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("want status 503, got %d", rec.Code)
	}
}

func TestRelease_UnsupportedChain(t *testing.T) {
	e := setupEnv(t)
	e.chain.err = domain.ErrUnsupportedChain
	id, _ := e.seal(t)

	rec := e.do(t, http.MethodPost, "/v1/payloads/"+id+"/release", e.releaseRequest(t))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("want status 422, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	e := setupEnv(t)
	if rec := e.do(t, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
}
