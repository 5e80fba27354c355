package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testBotToken = "12345:test-token"

// signInitData builds initData the way the Telegram client does.
func signInitData(botToken string, fields map[string]string) string {
	pairs := make([]string, 0, len(fields))
	for k, v := range fields {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	hash := hex.EncodeToString(mac.Sum(nil))

	q := url.Values{}
	for k, v := range fields {
		q.Set(k, v)
	}
	q.Set("hash", hash)
	return q.Encode()
}

func freshFields(authAt time.Time) map[string]string {
	return map[string]string{
		"auth_date": strconv.FormatInt(authAt.Unix(), 10),
		"user":      `{"id":7741,"username":"ghd_user","first_name":"Sara"}`,
		"query_id":  "AAF3AAAA",
	}
}

type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (g *memoryGuard) SetNX(_ context.Context, key, _ string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = map[string]bool{}
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func TestVerifyValidInitData(t *testing.T) {
	v := NewTelegramVerifier(testBotToken, 30*time.Minute, time.Hour, nil)
	raw := signInitData(testBotToken, freshFields(time.Now()))

	id, err := v.Verify(context.Background(), raw)
	assert.NoError(t, err)
	assert.Equal(t, int64(7741), id.UserID)
	assert.Equal(t, "ghd_user", id.Username)
	assert.Equal(t, "Sara", id.FirstName)
}

func TestVerifyTamperedPayload(t *testing.T) {
	v := NewTelegramVerifier(testBotToken, 30*time.Minute, time.Hour, nil)
	fields := freshFields(time.Now())
	raw := signInitData(testBotToken, fields)

	// swap in a different user id after signing
	tampered := strings.Replace(raw, "7741", "9999", 1)
	_, err := v.Verify(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrInitDataInvalid)
}

func TestVerifyWrongBotToken(t *testing.T) {
	v := NewTelegramVerifier(testBotToken, 30*time.Minute, time.Hour, nil)
	raw := signInitData("other:token", freshFields(time.Now()))

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInitDataInvalid)
}

func TestVerifyMissingHash(t *testing.T) {
	v := NewTelegramVerifier(testBotToken, 30*time.Minute, time.Hour, nil)
	_, err := v.Verify(context.Background(), "auth_date=1&user=%7B%7D")
	assert.ErrorIs(t, err, ErrInitDataInvalid)
}

func TestVerifyStaleAuthDate(t *testing.T) {
	v := NewTelegramVerifier(testBotToken, 30*time.Minute, time.Hour, nil)
	raw := signInitData(testBotToken, freshFields(time.Now().Add(-2*time.Hour)))

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInitDataExpired)
}

func TestVerifyFutureAuthDate(t *testing.T) {
	v := NewTelegramVerifier(testBotToken, 30*time.Minute, time.Hour, nil)
	raw := signInitData(testBotToken, freshFields(time.Now().Add(10*time.Minute)))

	_, err := v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInitDataInvalid)
}

func TestVerifyReplay(t *testing.T) {
	v := NewTelegramVerifier(testBotToken, 30*time.Minute, time.Hour, &memoryGuard{})
	raw := signInitData(testBotToken, freshFields(time.Now()))

	_, err := v.Verify(context.Background(), raw)
	assert.NoError(t, err)

	// the same signed payload cannot authenticate twice
	_, err = v.Verify(context.Background(), raw)
	assert.ErrorIs(t, err, ErrInitDataReplay)
}
