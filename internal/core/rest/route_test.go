package rest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucket(t *testing.T) {
	cases := []struct {
		name string
		path string
		want string
	}{
		{
			name: "message id collapses, channel id kept",
			path: "/channels/123456789012345678/messages/987654321098765432",
			want: "channels/123456789012345678/messages/:id",
		},
		{
			name: "reaction emoji and user collapse out",
			path: "/channels/111111111111111111/messages/222222222222222222/reactions/%F0%9F%98%80/333333333333333333",
			want: "channels/111111111111111111/messages/:id/reactions",
		},
		{
			name: "query string stripped",
			path: "/channels/111111111111111111/messages?limit=50&before=222222222222222222",
			want: "channels/111111111111111111/messages",
		},
		{
			name: "guild kept, member collapsed",
			path: "/guilds/4444444444444444/members/55555555555555555",
			want: "guilds/4444444444444444/members/:id",
		},
		{
			name: "user ids collapse",
			path: "/users/1234567890123456789/profile",
			want: "users/:id/profile",
		},
		{
			name: "too short and too long ids are not snowflakes",
			path: "/users/123456789012345/notes/12345678901234567890",
			want: "users/123456789012345/notes/12345678901234567890",
		},
		{
			name: "alphanumeric segment kept",
			path: "/users/@me/settings",
			want: "users/@me/settings",
		},
		{
			name: "empty path",
			path: "/",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Bucket(tc.path))
		})
	}
}

func TestBucketIsPure(t *testing.T) {
	p := "/channels/123456789012345678/messages/987654321098765432"
	assert.Equal(t, Bucket(p), Bucket(p))
	assert.Equal(t, Bucket(p), Bucket("/channels/123456789012345678/messages/111111111111111111"))
	assert.NotEqual(t, Bucket(p), Bucket("/channels/999999999999999999/messages/987654321098765432"))
}
