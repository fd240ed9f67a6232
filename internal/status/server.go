// Package status serves the read-only view of the assistant over HTTP: the
// last turn, the loop stage, host resources and metrics.
package status

import (
	"context"
	"errors"
	"html/template"
	log "log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/mem"

	"nova/internal/lastturn"
	"nova/internal/tts"
)

// Speaker must not wait for the turn loop; a busy speaker answers with
// tts.ErrBusy.
type Speaker interface {
	TrySpeak(ctx context.Context, text string) error
}

type Options struct {
	Addr     string
	Store    *lastturn.Store
	Stage    func() string
	Speaker  Speaker
	Gatherer prometheus.Gatherer
}

type Server struct {
	opts     Options
	engine   *gin.Engine
	upgrader websocket.Upgrader
}

// Overridden in tests.
var (
	gpuMemory = func(ctx context.Context) string {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		out, err := exec.CommandContext(ctx, "nvidia-smi",
			"--query-gpu=memory.used", "--format=csv,noheader,nounits").Output()
		if err != nil {
			return "unknown"
		}
		return strings.TrimSpace(string(out))
	}
	hostMemory = func(ctx context.Context) (float64, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return 0, err
		}
		return vm.UsedPercent, nil
	}
)

var indexTmpl = template.Must(template.New("index").Parse(`<html><body><h1>Assistant</h1>
<p>State: {{.State}}</p>
<p>Last transcript: {{.Transcript}}</p>
<p>Last response: {{.Response}}</p>
</body></html>`))

func New(opts Options) *Server {
	s := &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.SetHTMLTemplate(indexTmpl)

	r.GET("/health", s.health)
	r.GET("/status", s.status)
	r.POST("/say", s.say)
	r.GET("/", s.index)
	r.GET("/ws", s.ws)
	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("Status server listening", "addr", s.opts.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) status(c *gin.Context) {
	out := gin.H{
		"last_transcript":  nil,
		"last_response":    nil,
		"last_at":          nil,
		"state":            s.stage(),
		"gpu_mem":          gpuMemory(c.Request.Context()),
		"host_mem_percent": nil,
	}
	if t, ok := s.opts.Store.Snapshot(); ok {
		out["last_transcript"] = t.Transcript
		out["last_response"] = t.Response
		out["last_at"] = t.At
	}
	if pct, err := hostMemory(c.Request.Context()); err == nil {
		out["host_mem_percent"] = pct
	} else {
		log.Debug("Host memory unavailable", "err", err)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) say(c *gin.Context) {
	text := c.Query("text")
	if text == "" {
		var body struct {
			Text string `json:"text"`
		}
		_ = c.ShouldBindJSON(&body)
		text = body.Text
	}
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "text is required"})
		return
	}
	if s.opts.Speaker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "speech disabled"})
		return
	}

	err := s.opts.Speaker.TrySpeak(c.Request.Context(), text)
	if errors.Is(err, tts.ErrBusy) {
		c.JSON(http.StatusConflict, gin.H{"status": "error", "error": err.Error()})
		return
	}
	if err != nil {
		log.Warn("Say failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) index(c *gin.Context) {
	data := struct{ State, Transcript, Response string }{State: s.stage()}
	if t, ok := s.opts.Store.Snapshot(); ok {
		data.Transcript, data.Response = t.Transcript, t.Response
	}
	c.HTML(http.StatusOK, "index", data)
}

// ws streams every new turn as JSON until the client goes away.
func (s *Server) ws(c *gin.Context) {
	turns, cancel := s.opts.Store.Subscribe(8)
	defer cancel()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug("Websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case t, ok := <-turns:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(t); err != nil {
				return
			}
		}
	}
}

func (s *Server) stage() string {
	if s.opts.Stage == nil {
		return "unknown"
	}
	return s.opts.Stage()
}
