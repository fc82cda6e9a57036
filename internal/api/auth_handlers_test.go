package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// These cover the request-validation paths of Login/Register/Logout that
// return before touching Server.Authn, so a zero-value *Server is enough —
// the success paths need a live authn.Service and are exercised by
// internal/authn's own tests instead.

func TestLogin_InvalidJSON_Returns400(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()

	s.Login(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogin_MissingFields_Returns400(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString(`{"email":""}`))
	rr := httptest.NewRecorder()

	s.Login(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_InvalidJSON_Returns400(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()

	s.Register(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLogout_NoRefreshToken_Returns204(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()

	s.Logout(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
}
