package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/gatekeeper/pkg/authz"
	"github.com/platinummonkey/gatekeeper/pkg/engine"
	"github.com/platinummonkey/gatekeeper/pkg/guard"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
	"github.com/platinummonkey/gatekeeper/pkg/kittycat"
	"github.com/platinummonkey/gatekeeper/pkg/modules"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/platform"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: infrastructure wrappers may carry lower level causes
var errorMappings = []errorMapping{
	{platform.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
	{authz.ErrInfrastructure, http.StatusInternalServerError, "internal"},
	{guard.ErrInfrastructure, http.StatusInternalServerError, "internal"},
	{hierarchy.ErrStorage, http.StatusInternalServerError, "internal"},
	{modules.ErrStorage, http.StatusInternalServerError, "internal"},

	{authz.ErrDisabled, http.StatusForbidden, "disabled"},
	{authz.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{guard.ErrPermissionsDenied, http.StatusForbidden, "permission_denied"},
	{guard.ErrNoConfiguredRole, http.StatusForbidden, "no_configured_role"},
	{guard.ErrRankTooLow, http.StatusForbidden, "rank_too_low"},
	{guard.ErrNativeHierarchy, http.StatusForbidden, "native_hierarchy"},
	{guard.ErrPublicFlagSelfOnly, http.StatusForbidden, "public_flag_self_only"},

	{engine.ErrAuditDisabled, http.StatusNotFound, "audit_disabled"},
	{hierarchy.ErrNotFound, http.StatusNotFound, "not_found"},
	{authz.ErrUnknownCommand, http.StatusNotFound, "not_found"},
	{modules.ErrUnknownModule, http.StatusNotFound, "not_found"},
	{modules.ErrUnknownCommand, http.StatusNotFound, "not_found"},
	{hierarchy.ErrAlreadyExists, http.StatusConflict, "already_exists"},

	{authz.ErrValidation, http.StatusBadRequest, "invalid_request"},
	{guard.ErrValidation, http.StatusBadRequest, "invalid_request"},
	{hierarchy.ErrValidation, http.StatusBadRequest, "invalid_request"},
	{modules.ErrNotToggleable, http.StatusBadRequest, "invalid_request"},
	{modules.ErrInvalidRequirement, http.StatusBadRequest, "invalid_request"},
	{kittycat.ErrInvalidPermission, http.StatusBadRequest, "invalid_request"},
}

// writeEngineError renders err with the status and code of its category.
// Internal errors are logged and never shown to the caller.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if !errors.Is(err, m.target) {
			continue
		}
		if m.status == http.StatusInternalServerError {
			break
		}
		httputil.WriteError(w, m.status, m.code, err.Error())
		return
	}

	observability.FromContext(r.Context()).WithError(err).Error("Request failed")
	httputil.WriteInternalError(w)
}
