package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Key layout is part of the protocol contract; a running Redis is
// exercised by the deployment's end-to-end environment, here we pin the
// shapes themselves.
func TestRedisStore_KeyLayout(t *testing.T) {
	s := &RedisStore{prefix: "oidc"}

	assert.Equal(t, "oidc:Interaction:int-1", s.recordKey(KindInteraction, "int-1"))
	assert.Equal(t, "oidc:AuthorizationCode:c-1", s.recordKey(KindAuthCode, "c-1"))
	assert.Equal(t, "oidc:uid:abc123", s.uidKey("abc123"))
	assert.Equal(t, "oidc:grant:g-1", s.grantKey("g-1"))
}

func TestExtractIndexes(t *testing.T) {
	assert.Equal(t, indexedFields{UID: "u", GrantID: "g"}, extractIndexes([]byte(`{"uid":"u","grantId":"g","x":1}`)))
	assert.Equal(t, indexedFields{}, extractIndexes([]byte(`{"other":"y"}`)))
	assert.Equal(t, indexedFields{}, extractIndexes([]byte(`not json`)))
}
