// Package httpapi implements the thin HTTP/WS transport over the session
// control plane (spec.md §6, component J): route shapes, CORS, the admin
// bearer-token check, the push channel, and the static output mount. No
// business logic lives here — every handler delegates to internal/session,
// internal/models, or internal/download.
package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/loquilex/sessiond/internal/download"
	"github.com/loquilex/sessiond/internal/events"
	"github.com/loquilex/sessiond/internal/hub"
	"github.com/loquilex/sessiond/internal/models"
	"github.com/loquilex/sessiond/internal/session"
)

// Server wires the supervisor, model registry, and download manager to a
// gin engine implementing spec.md §6 verbatim.
type Server struct {
	Engine *gin.Engine

	supervisor  *session.Supervisor
	hub         *hub.Hub
	registry    *models.Registry
	downloads   *download.Manager
	outputRoot  string
	adminToken  string
	downloadLim *rate.Limiter
	upgrader    websocket.Upgrader
}

// New builds a Server. adminToken == "" disables authentication on
// /admin/* routes (documented non-default behavior; callers should refuse
// this in production configs, see the Admin token entry in SPEC_FULL.md's
// glossary).
func New(sv *session.Supervisor, h *hub.Hub, registry *models.Registry, dl *download.Manager, outputRoot, adminToken string) *Server {
	s := &Server{
		supervisor:  sv,
		hub:         h,
		registry:    registry,
		downloads:   dl,
		outputRoot:  outputRoot,
		adminToken:  adminToken,
		downloadLim: rate.NewLimiter(rate.Every(time.Second), 2),
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
	}

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	e.GET("/models/asr", s.listASRModels)
	e.GET("/models/mt", s.listMTModels)
	e.GET("/languages/mt/:model_id", s.mtLanguages)
	e.GET("/models/asr/:name/capabilities", s.asrCapabilities)
	e.POST("/models/download", s.startDownload)
	e.POST("/sessions", s.createSession)
	e.DELETE("/sessions/:sid", s.stopSession)
	e.POST("/admin/cache/clear", s.adminAuth(), s.clearCache)
	e.GET("/events/:sid", s.events)
	e.Static("/out", outputRoot)

	s.Engine = e
	return s
}

// Handler wraps the gin engine with permissive CORS, matching the
// original's CORSMiddleware(allow_origins=["*"]); overridable via origins.
func (s *Server) Handler(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.Engine)
}

func (s *Server) listASRModels(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.ListASR())
}

func (s *Server) listMTModels(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.ListMT())
}

func (s *Server) mtLanguages(c *gin.Context) {
	modelID := c.Param("model_id")
	c.JSON(http.StatusOK, gin.H{
		"model_id":  modelID,
		"languages": models.MTLanguages(modelID),
	})
}

func (s *Server) asrCapabilities(c *gin.Context) {
	name := c.Param("name")
	c.JSON(http.StatusOK, models.ProbeASR(name))
}

type downloadRequest struct {
	RepoID string `json:"repo_id" binding:"required"`
	Type   string `json:"type" binding:"required"`
}

func (s *Server) startDownload(c *gin.Context) {
	if !s.downloadLim.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": "download rate limit exceeded"})
		return
	}
	var req downloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	jobID := s.downloads.Start(req.RepoID, req.Type)
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": "started"})
}

// createSessionRequest mirrors SessionConfig (spec.md §3) at the wire
// boundary, with JSON defaults matching the original's Pydantic model
// (api/server.py CreateSessionReq).
type createSessionRequest struct {
	Name           string  `json:"name"`
	ASRModelID     string  `json:"asr_model_id" binding:"required"`
	MTEnabled      bool    `json:"mt_enabled"`
	MTModelID      string  `json:"mt_model_id"`
	DestLang       string  `json:"dest_lang"`
	Device         string  `json:"device"`
	VAD            bool    `json:"vad"`
	Beams          int     `json:"beams"`
	PauseFlushSec  float64 `json:"pause_flush_sec"`
	SegmentMaxSec  float64 `json:"segment_max_sec"`
	PartialWordCap int     `json:"partial_word_cap"`
	SaveAudio      string  `json:"save_audio"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	name := req.Name
	if name == "" {
		name = "session"
	}
	device := req.Device
	if device == "" {
		device = session.DeviceAuto
	}
	saveAudio := req.SaveAudio
	if saveAudio == "" {
		saveAudio = session.SaveAudioOff
	}

	cfg := session.Config{
		Name:           name,
		ASRModelID:     req.ASRModelID,
		MTEnabled:      req.MTEnabled,
		MTModelID:      req.MTModelID,
		DestLang:       req.DestLang,
		Device:         device,
		VAD:            req.VAD,
		Beams:          req.Beams,
		PauseFlushSec:  req.PauseFlushSec,
		SegmentMaxSec:  req.SegmentMaxSec,
		PartialWordCap: req.PartialWordCap,
		SaveAudio:      saveAudio,
	}

	sess, err := s.supervisor.Create(cfg)
	if err != nil {
		var admErr *session.AdmissionError
		if errors.As(err, &admErr) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": admErr.Message})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sess.ID})
}

func (s *Server) stopSession(c *gin.Context) {
	sid := c.Param("sid")
	if err := s.supervisor.Stop(sid); err != nil {
		var nf *session.NotFoundError
		if errors.As(err, &nf) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// adminAuth enforces spec.md §6's bearer-token admin check: 401 when no
// credential was supplied, 403 when one was supplied but is wrong.
func (s *Server) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminToken == "" {
			c.Next()
			return
		}
		const prefix = "Bearer "
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "missing bearer token"})
			return
		}
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "malformed authorization header"})
			return
		}
		token := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "invalid bearer token"})
			return
		}
		c.Next()
	}
}

func (s *Server) clearCache(c *gin.Context) {
	s.registry.Clear()
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}

// wsSubscriber adapts a gorilla/websocket connection to the hub.Subscriber
// interface: Send is non-blocking from the hub's perspective because it
// hands off to a dedicated per-connection writer goroutine via a small
// buffered channel, closing (and reporting failure) on overflow.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	out  chan events.Envelope
	done chan struct{}
}

func newWSSubscriber(id string, conn *websocket.Conn) *wsSubscriber {
	s := &wsSubscriber{id: id, conn: conn, out: make(chan events.Envelope, 64), done: make(chan struct{})}
	go s.writeLoop()
	return s
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(env events.Envelope) bool {
	select {
	case s.out <- env:
		return true
	default:
		return false
	}
}

func (s *wsSubscriber) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
		_ = s.conn.Close()
	}
}

func (s *wsSubscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case env := <-s.out:
			if err := s.conn.WriteJSON(env); err != nil {
				s.Close()
				return
			}
		}
	}
}

type resumeFrame struct {
	Type    string `json:"type"`
	LastSeq uint64 `json:"last_seq"`
}

func (s *Server) events(c *gin.Context) {
	sid := c.Param("sid")
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	sub := newWSSubscriber(sid+"-"+time.Now().Format("150405.000000"), conn)
	s.hub.Register(sid, sub)
	defer s.hub.Unregister(sid, sub)
	defer sub.Close()

	sub.Send(events.New(events.TypeHello, map[string]any{"sid": sid}))

	for {
		var frame resumeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type != "resume" {
			continue
		}
		if sess, ok := s.supervisor.Get(sid); ok {
			for _, env := range sess.Replay.GetAfter(frame.LastSeq) {
				sub.Send(env)
			}
		}
	}
}
