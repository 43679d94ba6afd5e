package usecase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"key-release-service/internal/cipher"
	"key-release-service/internal/condition"
	"key-release-service/internal/domain"
	"key-release-service/internal/infra"
)

const (
	contractA = "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	contractB = "0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

// mockPayloadRepository はテスト用のインメモリリポジトリ。
type mockPayloadRepository struct {
	mu       sync.Mutex
	payloads map[string]*domain.EncryptedPayload
	order    []string
	findErr  error
}

func newMockPayloadRepository() *mockPayloadRepository {
	return &mockPayloadRepository{payloads: make(map[string]*domain.EncryptedPayload)}
}

func (m *mockPayloadRepository) Create(ctx context.Context, p *domain.EncryptedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now()
	stored := *p
	m.payloads[p.ID] = &stored
	m.order = append(m.order, p.ID)
	return nil
}

func (m *mockPayloadRepository) FindByID(ctx context.Context, id string) (*domain.EncryptedPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	p, ok := m.payloads[id]
	if !ok {
		return nil, nil
	}
	copied := *p
	return &copied, nil
}

func (m *mockPayloadRepository) List(ctx context.Context, limit int) ([]*domain.EncryptedPayload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*domain.EncryptedPayload
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.payloads[m.order[i]])
	}
	return result, nil
}

// recordingRepository はList呼び出し時のlimitを記録する。
type recordingRepository struct {
	*mockPayloadRepository
	lastLimit int
}

func (r *recordingRepository) List(ctx context.Context, limit int) ([]*domain.EncryptedPayload, error) {
	r.lastLimit = limit
	return r.mockPayloadRepository.List(ctx, limit)
}

func newTestWrapper(t *testing.T) *infra.LocalWrapper {
	t.Helper()
	w, err := infra.NewLocalWrapper(strings.Repeat("11", cipher.KeySize))
	if err != nil {
		t.Fatalf("NewLocalWrapper failed: %v", err)
	}
	return w
}

func balanceCondition(contract string, comparator domain.Comparator, value string) domain.AccessCondition {
	return domain.AccessCondition{
		ContractAddress: contract,
		Chain:           "ethereum",
		Standard:        domain.StandardERC721,
		Method:          "balanceOf",
		Parameters:      []domain.Param{domain.CallerAddress()},
		ReturnValueTest: domain.ReturnValueTest{Comparator: comparator, Value: value},
	}
}

// sealTestPayload は平文を暗号化してペイロードとして登録し、IDと鍵を返す。
func sealTestPayload(t *testing.T, svc *PayloadService, set domain.ConditionSet) (string, []byte) {
	t.Helper()
	key, err := cipher.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	ct, err := cipher.Encrypt([]byte("members only"), key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	meta, err := svc.Seal(context.Background(), SealInput{Ciphertext: ct, Key: key, Conditions: set})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	return meta.ID, key
}

func TestPayloadService_Seal(t *testing.T) {
	ctx := context.Background()
	repo := newMockPayloadRepository()
	wrapper := newTestWrapper(t)
	svc := NewPayloadService(repo, wrapper)

	set := domain.ConditionSet{Conditions: []domain.AccessCondition{balanceCondition(contractA, domain.ComparatorGT, "0")}}
	id, key := sealTestPayload(t, svc, set)

	stored, err := svc.GetPayload(ctx, id)
	if err != nil {
		t.Fatalf("GetPayload failed: %v", err)
	}
	if stored.Conditions.Operator != domain.OperatorAnd {
		t.Errorf("want operator defaulted to and, got %q", stored.Conditions.Operator)
	}
	if stored.KeyWrapper != "local" {
		t.Errorf("want key wrapper local, got %s", stored.KeyWrapper)
	}
	if bytes.Equal(stored.WrappedKey, key) {
		t.Error("wrapped key must not equal plaintext key")
	}

	digest, err := condition.Digest(stored.Conditions)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if !bytes.Equal(digest, stored.ConditionDigest) {
		t.Error("stored digest does not match conditions")
	}
	unwrapped, err := wrapper.Unwrap(ctx, stored.WrappedKey, digest)
	if err != nil {
		t.Fatalf("Unwrap failed: %v", err)
	}
	if !bytes.Equal(unwrapped, key) {
		t.Error("unwrapped key does not match")
	}
}

func TestPayloadService_Seal_Invalid(t *testing.T) {
	valid := domain.ConditionSet{Conditions: []domain.AccessCondition{balanceCondition(contractA, domain.ComparatorGT, "0")}}
	key := bytes.Repeat([]byte{1}, cipher.KeySize)
	ct := make([]byte, cipher.Overhead)

	tests := []struct {
		name string
		in   SealInput
		want error
	}{
		{"empty conditions", SealInput{Ciphertext: ct, Key: key}, domain.ErrInvalidCondition},
		{"bad comparator", SealInput{Ciphertext: ct, Key: key, Conditions: domain.ConditionSet{
			Conditions: []domain.AccessCondition{balanceCondition(contractA, "~", "0")},
		}}, domain.ErrInvalidCondition},
		{"short key", SealInput{Ciphertext: ct, Key: key[:16], Conditions: valid}, domain.ErrInvalidSymmetricKey},
		{"short ciphertext", SealInput{Ciphertext: ct[:10], Key: key, Conditions: valid}, domain.ErrInvalidCiphertext},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockPayloadRepository()
			svc := NewPayloadService(repo, newTestWrapper(t))
			_, err := svc.Seal(context.Background(), tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("want %v, got %v", tt.want, err)
			}
			if len(repo.payloads) != 0 {
				t.Error("invalid input must not be stored")
			}
		})
	}
}

func TestPayloadService_GetPayload_Errors(t *testing.T) {
	svc := NewPayloadService(newMockPayloadRepository(), newTestWrapper(t))

	if _, err := svc.GetPayload(context.Background(), "not-a-uuid"); !errors.Is(err, domain.ErrInvalidPayloadID) {
		t.Errorf("want ErrInvalidPayloadID, got %v", err)
	}
	if _, err := svc.GetPayload(context.Background(), uuid.New().String()); !errors.Is(err, domain.ErrPayloadNotFound) {
		t.Errorf("want ErrPayloadNotFound, got %v", err)
	}
}

func TestPayloadService_ListPayloads(t *testing.T) {
	repo := &recordingRepository{mockPayloadRepository: newMockPayloadRepository()}
	svc := NewPayloadService(repo, newTestWrapper(t))

	set := domain.ConditionSet{
		Operator: domain.OperatorOr,
		Conditions: []domain.AccessCondition{
			balanceCondition(contractA, domain.ComparatorGT, "0"),
			balanceCondition(contractB, domain.ComparatorGTE, "2"),
		},
	}
	sealTestPayload(t, svc, set)

	tests := []struct {
		limit     int
		wantLimit int
	}{
		{0, 50},
		{-1, 50},
		{10, 10},
		{1000, 200},
	}
	for _, tt := range tests {
		got, err := svc.ListPayloads(context.Background(), tt.limit)
		if err != nil {
			t.Fatalf("ListPayloads failed: %v", err)
		}
		if repo.lastLimit != tt.wantLimit {
			t.Errorf("limit %d: want repository limit %d, got %d", tt.limit, tt.wantLimit, repo.lastLimit)
		}
		if len(got) != 1 || got[0].ConditionCount != 2 || got[0].Operator != domain.OperatorOr {
			t.Errorf("unexpected metadata: %+v", got)
		}
	}
}
