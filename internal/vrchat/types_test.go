package vrchat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionSetWildcard(t *testing.T) {
	owner := NewPermissionSet(PermissionAll)
	assert.True(t, owner.Has(PermissionManageRoles))
	assert.True(t, owner.ContainsAll([]Permission{PermissionManageBans, PermissionRemoveMembers}))

	mod := NewPermissionSet(PermissionManageBans, PermissionManageBans, PermissionViewAuditLogs)
	assert.Len(t, mod, 2)
	assert.False(t, mod.Has(PermissionRemoveMembers))
	assert.True(t, mod.ContainsAll(nil))
	assert.Equal(t, []Permission{PermissionViewAuditLogs, PermissionManageBans}, mod.Sorted())
}

func TestEventLabelAndColorFallbacks(t *testing.T) {
	assert.Equal(t, "User Banned", EventLabel("group.user.ban"))
	assert.Equal(t, 0x992D22, EventColor("group.user.ban"))
	assert.Equal(t, "group.something.new", EventLabel("group.something.new"))
	assert.Equal(t, DefaultEventColor, EventColor("group.something.new"))
}

func TestLogEntryDecodesPlatformShape(t *testing.T) {
	raw := `{"id":"gaud_1","groupId":"grp_a","created_at":"2024-05-01T12:00:00.123Z","eventType":"group.member.join","description":"x joined","actorId":"usr_1","actorDisplayName":"Mod","targetId":"usr_2"}`
	var e LogEntry
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, "gaud_1", e.ID)
	assert.Equal(t, "Mod", e.ActorName)
	assert.True(t, e.CreatedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 123e6, time.UTC)))
}
