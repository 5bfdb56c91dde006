package httpapi

import "net/http"

// AdminAuthenticator gates the admin CRUD/analytics surface. The role
// check itself is a collaborator contract this module does not own:
// production deployments inject a real implementation (session cookie,
// JWT, mTLS — whatever the surrounding platform uses); this module ships
// only the permissive development one.
type AdminAuthenticator interface {
	// Authenticate reports whether the request may proceed. A non-nil
	// error is surfaced to the client as the uniform error envelope; the
	// caller is expected to use core.KindUnauthorized/core.KindForbidden.
	Authenticate(r *http.Request) error
}

// DevAuthenticator allows every request. It exists so this module is
// runnable out of the box in local development; never wire it in a
// deployment that has anything to protect.
type DevAuthenticator struct{}

func (DevAuthenticator) Authenticate(r *http.Request) error { return nil }

func requireAdmin(auth AdminAuthenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Authenticate(r); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}
