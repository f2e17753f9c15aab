package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"lms-calendar-api/core/constants"
	"lms-calendar-api/core/utils"
	"lms-calendar-api/modules/calendar/entity"
)

// oauthState binds an OAuth consent round-trip to a (user, provider) pair so a
// callback carrying someone else's code cannot be attached to this user. The
// state is HMAC-signed and carries its own issue time; the nonce is additionally
// stored one-time-use so a state cannot be replayed. Because everything needed
// to validate it travels in the parameter, any instance can handle the callback.
type oauthState struct {
	UserID   uuid.UUID
	Provider entity.Provider
	Nonce    string
	IssuedAt time.Time
}

const stateVersion = "CALSTATE|v1"

func newOAuthState(userID uuid.UUID, provider entity.Provider) oauthState {
	return oauthState{
		UserID:   userID,
		Provider: provider,
		Nonce:    utils.GenerateNonce(24),
		IssuedAt: time.Now(),
	}
}

func (s oauthState) payload() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", stateVersion, s.UserID, s.Provider, s.Nonce, s.IssuedAt.Unix())
}

func (s oauthState) encode(signingKey []byte) string {
	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(s.payload()))
	signed := s.payload() + "|" + hex.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(signed))
}

func decodeOAuthState(encoded string, signingKey []byte) (*oauthState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("state is not valid base64")
	}

	// CALSTATE|v1|userID|provider|nonce|issuedUnix|signature
	parts := strings.Split(string(raw), "|")
	if len(parts) != 7 || parts[0]+"|"+parts[1] != stateVersion {
		return nil, fmt.Errorf("state has unexpected format")
	}

	userID, err := uuid.Parse(parts[2])
	if err != nil {
		return nil, fmt.Errorf("state carries an invalid user id")
	}
	provider, ok := entity.ParseProvider(parts[3])
	if !ok {
		return nil, fmt.Errorf("state carries an unknown provider")
	}
	issuedUnix, err := strconv.ParseInt(parts[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("state carries an invalid timestamp")
	}

	state := oauthState{
		UserID:   userID,
		Provider: provider,
		Nonce:    parts[4],
		IssuedAt: time.Unix(issuedUnix, 0),
	}

	mac := hmac.New(sha256.New, signingKey)
	mac.Write([]byte(state.payload()))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(parts[6])) {
		return nil, fmt.Errorf("state signature mismatch")
	}

	if time.Since(state.IssuedAt) > constants.OAuthStateTTL {
		return nil, fmt.Errorf("state expired")
	}

	return &state, nil
}
