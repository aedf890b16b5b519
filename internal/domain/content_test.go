package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewThread_PidEqualsTid(t *testing.T) {
	c := NewThread("f1", 100, "hi", "body", nil, 1700000000, 1700000000, 3, User{UserID: 1})
	require.NoError(t, c.Validate())
	assert.Equal(t, c.Tid, c.Pid)
	assert.True(t, c.IsThread())
}

func TestNewPost_FloorMustBeAtLeastTwo(t *testing.T) {
	c := NewPost("f1", 100, 101, "hi", "body", nil, 1700000001, 1, 0, User{UserID: 2})
	assert.ErrorIs(t, c.Validate(), ErrInvalidContent)

	c.Floor = 2
	assert.NoError(t, c.Validate())
}

func TestContentMark(t *testing.T) {
	c := NewComment("f1", 100, 102, "hi", "nested", 1700000002, 2, User{UserID: 3})
	assert.Equal(t, "comment:102", c.Mark())
}

func TestUpdateStatusGroups(t *testing.T) {
	assert.True(t, StatusNew.Has(StatusIsNew))
	assert.True(t, StatusNewWithChild.Has(StatusIsNew))
	assert.False(t, StatusUpdated.Has(StatusIsNew))
	assert.True(t, StatusUnchanged.Has(StatusIsStable))
	assert.True(t, StatusNewWithChild.Has(StatusHasChanges))
}
