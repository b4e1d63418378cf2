package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
)

func defWithSecurity(pol plugin.SecurityPolicy) *plugin.PluginDefinition {
	return &plugin.PluginDefinition{Name: "guarded", Security: pol}
}

func TestAuthorize(t *testing.T) {
	s := NewService(nil, nil, nil, nil, zap.NewNop())
	guild := job.Context{GuildID: "g1"}

	cases := []struct {
		name    string
		pol     plugin.SecurityPolicy
		req     Requester
		jctx    job.Context
		allowed bool
	}{
		{
			name:    "open policy admits anyone",
			req:     Requester{ID: "u1"},
			allowed: true,
		},
		{
			name:    "guild only refuses direct messages",
			pol:     plugin.SecurityPolicy{GuildOnly: true},
			req:     Requester{ID: "u1"},
			allowed: false,
		},
		{
			name:    "guild only admits guild context",
			pol:     plugin.SecurityPolicy{GuildOnly: true},
			req:     Requester{ID: "u1"},
			jctx:    guild,
			allowed: true,
		},
		{
			name:    "denied user loses even when allow-listed",
			pol:     plugin.SecurityPolicy{AllowedUsers: []string{"u1"}, DeniedUsers: []string{"u1"}},
			req:     Requester{ID: "u1"},
			allowed: false,
		},
		{
			name:    "denied role loses even with allowed role",
			pol:     plugin.SecurityPolicy{AllowedRoles: []string{"dj"}, DeniedRoles: []string{"muted"}},
			req:     Requester{ID: "u1", Roles: []string{"dj", "muted"}},
			allowed: false,
		},
		{
			name:    "allowed user list admits member",
			pol:     plugin.SecurityPolicy{AllowedUsers: []string{"u1", "u2"}},
			req:     Requester{ID: "u2"},
			allowed: true,
		},
		{
			name:    "allowed user list refuses outsider",
			pol:     plugin.SecurityPolicy{AllowedUsers: []string{"u1"}},
			req:     Requester{ID: "u9"},
			allowed: false,
		},
		{
			name:    "allowed role admits holder",
			pol:     plugin.SecurityPolicy{AllowedRoles: []string{"dj"}},
			req:     Requester{ID: "u9", Roles: []string{"dj"}},
			allowed: true,
		},
		{
			name:    "allowed role refuses non-holder",
			pol:     plugin.SecurityPolicy{AllowedRoles: []string{"dj"}},
			req:     Requester{ID: "u9", Roles: []string{"listener"}},
			allowed: false,
		},
		{
			name:    "user outside allow list admitted via role",
			pol:     plugin.SecurityPolicy{AllowedUsers: []string{"u1"}, AllowedRoles: []string{"dj"}},
			req:     Requester{ID: "u9", Roles: []string{"dj"}},
			allowed: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.Authorize(defWithSecurity(tc.pol), tc.req, tc.jctx)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrAccessDenied)
			}
		})
	}
}
