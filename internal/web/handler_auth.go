package web

import (
	"net/http"

	"github.com/vbonduro/wohnmap/internal/service"
)

type loginView struct {
	AppName       string
	Configured    bool
	ConfigMessage string
	HasSession    bool
	Email         string
	Error         string
}

func (s *Server) newLoginView(r *http.Request) loginView {
	v := loginView{
		AppName:       s.opts.AppName,
		Configured:    s.deps.Auth.Configured(),
		ConfigMessage: service.MsgConfigMissing,
	}
	if sess := s.session(r); sess != nil {
		v.HasSession = true
		v.Email = sess.Email
	}
	return v
}

func (s *Server) renderLogin(w http.ResponseWriter, v loginView) {
	if err := s.renderPage(w, v, "base.html", "pages/login.html"); err != nil {
		s.logger.Error("render page failed", "page", "login", "error", err)
	}
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.renderLogin(w, s.newLoginView(r))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	sess, err := s.deps.Auth.Login(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
	if err != nil {
		v := s.newLoginView(r)
		v.Email = r.PostFormValue("email")
		v.Error = service.LoginMessage(err)
		s.renderLogin(w, v)
		return
	}

	s.setCookie(w, sessionCookie, sess.ID, s.opts.SessionTTL)
	http.Redirect(w, r, "/map", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if err := s.deps.Auth.Logout(r.Context(), c.Value); err != nil {
			s.logger.Error("logout failed", "error", err)
		}
	}
	s.clearCookie(w, sessionCookie)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
