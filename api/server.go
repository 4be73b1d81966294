// Package api is the authenticated HTTP control surface: a thin gin layer
// translating operator verbs 1:1 onto session controller operations.
package api

import (
	"hedgegram/auth"
	"hedgegram/broker"
	"hedgegram/journal"
	"hedgegram/metrics"
	"hedgegram/notify"
	"hedgegram/session"

	"github.com/gin-gonic/gin"
)

// Options wires a Server's collaborators.
type Options struct {
	Controller *session.Controller
	Creds      *auth.Store
	Login      *broker.LoginClient
	Live       *broker.LiveSource
	Journal    *journal.Journal
	Notifier   notify.Notifier
	APIKey     string
}

// Server routes control requests into the session controller.
type Server struct {
	Router *gin.Engine

	ctrl     *session.Controller
	creds    *auth.Store
	login    *broker.LoginClient
	live     *broker.LiveSource
	journal  *journal.Journal
	notifier notify.Notifier
	apiKey   string
}

func NewServer(o Options) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())

	notifier := o.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}

	s := &Server{
		Router:   r,
		ctrl:     o.Controller,
		creds:    o.Creds,
		login:    o.Login,
		live:     o.Live,
		journal:  o.Journal,
		notifier: notifier,
		apiKey:   o.APIKey,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(metrics.Handler()))

	ctl := s.Router.Group("/control")
	ctl.Use(APIKeyMiddleware(s.apiKey))
	{
		ctl.POST("/start", s.start)
		ctl.POST("/stop", s.stop)
		ctl.GET("/status", s.status)
		ctl.GET("/pnl", s.pnl)
		ctl.GET("/positions", s.positions)
		ctl.POST("/mode", s.setMode)
		ctl.POST("/totp", s.totp)
		ctl.GET("/liveauth", s.liveAuth)
		ctl.POST("/load_liveauth", s.loadLiveAuth)
		ctl.POST("/panic", s.panic)
		ctl.GET("/events", s.events)
	}
}
