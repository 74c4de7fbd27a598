package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentUnmarshalNormalizesPlainText(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"什麼是CKD?"}`), &msg))

	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, ContentText, msg.Content.Kind)
	assert.Equal(t, "什麼是CKD?", msg.Content.Outline)
	assert.Equal(t, "什麼是CKD?", msg.Content.Detail)
}

func TestContentUnmarshalOutlineObject(t *testing.T) {
	var msg Message
	raw := `{"role":"assistant","content":{"outline":"Chronic Kidney Disease","detail":"..."}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	assert.Equal(t, OutlineContent("Chronic Kidney Disease", "..."), msg.Content)
}

func TestContentRoundTripKeepsKind(t *testing.T) {
	in := TextContent("hello")
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Content
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestContentUnmarshalNull(t *testing.T) {
	var c Content
	require.NoError(t, json.Unmarshal([]byte(`null`), &c))
	assert.True(t, c.IsZero())
}

func TestTimestampAcceptsNaiveISO(t *testing.T) {
	var s Session
	raw := `{"id":"s1","name":null,"history":[],"created_at":"2025-01-02T03:04:05.123456","updated_at":"2025-01-02T03:04:05"}`
	require.NoError(t, json.Unmarshal([]byte(raw), &s))

	assert.Nil(t, s.Name)
	assert.Equal(t, DefaultSessionTitle, s.Title())
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 123456000, time.UTC), s.CreatedAt.Time)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), s.UpdatedAt.Time)
}

func TestTimestampRejectsGarbage(t *testing.T) {
	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := Session{ID: "s1", Name: StringPtr("a"), History: []Message{{Role: RoleUser, Content: TextContent("x")}}}
	c := s.Clone()

	*c.Name = "b"
	c.History[0].Content = TextContent("y")

	assert.Equal(t, "a", *s.Name)
	assert.Equal(t, "x", s.History[0].Content.Outline)
}
