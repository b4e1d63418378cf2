package runner

import (
	"errors"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/job"
	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
)

// ErrAccessDenied is reported to callers as a generic refusal.
var ErrAccessDenied = errors.New("access denied")

// Requester identifies who asked for an invocation.
type Requester struct {
	ID    string
	Roles []string
}

// Authorize applies the plugin's SecurityPolicy: deny lists win, then
// non-empty allow lists must match, and guild-only plugins require guild
// context.
func (s *Service) Authorize(def *plugin.PluginDefinition, req Requester, jctx job.Context) error {
	pol := def.Security

	if pol.GuildOnly && jctx.GuildID == "" {
		return ErrAccessDenied
	}
	for _, id := range pol.DeniedUsers {
		if id == req.ID {
			return ErrAccessDenied
		}
	}
	for _, role := range pol.DeniedRoles {
		if hasRole(req.Roles, role) {
			return ErrAccessDenied
		}
	}
	if len(pol.AllowedUsers) > 0 && !containsString(pol.AllowedUsers, req.ID) {
		if len(pol.AllowedRoles) == 0 || !anyRole(req.Roles, pol.AllowedRoles) {
			return ErrAccessDenied
		}
	}
	if len(pol.AllowedUsers) == 0 && len(pol.AllowedRoles) > 0 && !anyRole(req.Roles, pol.AllowedRoles) {
		return ErrAccessDenied
	}
	return nil
}

func hasRole(roles []string, role string) bool {
	return containsString(roles, role)
}

func anyRole(roles, wanted []string) bool {
	for _, w := range wanted {
		if containsString(roles, w) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
