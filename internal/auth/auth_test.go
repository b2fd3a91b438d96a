package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	assert.NoError(t, err)
	assert.True(t, CheckPassword(hash, "correct horse battery staple"))
	assert.False(t, CheckPassword(hash, "wrong password"))
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	token := IssueToken(42, secret, time.Hour)

	riderID, err := ParseToken(token, secret)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), riderID)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("test-secret")
	token := IssueToken(42, secret, -time.Minute)

	_, err := ParseToken(token, secret)
	assert.Error(t, err)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token := IssueToken(42, []byte("secret-a"), time.Hour)

	_, err := ParseToken(token, []byte("secret-b"))
	assert.Error(t, err)
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	_, err := ParseToken("not-a-real-token", []byte("secret"))
	assert.Error(t, err)
}
