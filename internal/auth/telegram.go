// Package auth validates Telegram Mini App initData. The HMAC scheme is
// the WebAppData variant: secret = HMAC_SHA256("WebAppData", bot_token),
// hash = HMAC_SHA256(secret, data_check_string).
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInitDataInvalid = errors.New("telegram init data invalid")
	ErrInitDataExpired = errors.New("telegram init data expired")
	ErrInitDataReplay  = errors.New("telegram init data replayed")
)

// ReplayGuard is the single-use marker store (redis SetNX in production).
type ReplayGuard interface {
	SetNX(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
}

// TelegramVerifier checks initData signatures and freshness.
type TelegramVerifier struct {
	botToken  string
	authTTL   time.Duration
	replayTTL time.Duration
	guard     ReplayGuard
}

func NewTelegramVerifier(botToken string, authTTL, replayTTL time.Duration, guard ReplayGuard) *TelegramVerifier {
	return &TelegramVerifier{botToken: botToken, authTTL: authTTL, replayTTL: replayTTL, guard: guard}
}

// Identity is the verified Mini App user.
type Identity struct {
	UserID    int64
	Username  string
	FirstName string
	AuthAt    time.Time
}

type initDataUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Verify validates raw initData and returns the embedded identity. The
// hash is single-use within the replay window.
func (v *TelegramVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, ErrInitDataInvalid
	}
	gotHash := values.Get("hash")
	if gotHash == "" {
		return nil, ErrInitDataInvalid
	}

	pairs := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		pairs = append(pairs, k+"="+values.Get(k))
	}
	sort.Strings(pairs)
	checkString := strings.Join(pairs, "\n")

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(v.botToken))
	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(checkString))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(gotHash)) {
		return nil, ErrInitDataInvalid
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, ErrInitDataInvalid
	}
	authAt := time.Unix(authDate, 0)
	now := time.Now()
	if authAt.After(now.Add(time.Minute)) {
		return nil, ErrInitDataInvalid
	}
	if now.Sub(authAt) > v.authTTL {
		return nil, ErrInitDataExpired
	}

	var u initDataUser
	if err := json.Unmarshal([]byte(values.Get("user")), &u); err != nil || u.ID == 0 {
		return nil, ErrInitDataInvalid
	}

	if v.guard != nil {
		key := fmt.Sprintf("tg:initdata:%d:%s", u.ID, gotHash)
		ok, err := v.guard.SetNX(ctx, key, "1", v.replayTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInitDataReplay
		}
	}

	return &Identity{UserID: u.ID, Username: u.Username, FirstName: u.FirstName, AuthAt: authAt}, nil
}
