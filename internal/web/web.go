package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"math"
	"net/http"
	"strconv"
	"time"

	"dayplan/internal/config"
	"dayplan/internal/dateutil"
	"dayplan/internal/grid"
	"dayplan/internal/ics"
	"dayplan/internal/layout"
	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
	"dayplan/internal/model"
	"dayplan/internal/store"
	"dayplan/internal/timemath"
)

//go:embed templates/*.html
var templateFS embed.FS

var dayTemplate = template.Must(template.New("day.html").Funcs(template.FuncMap{
	"px": func(f float64) string { return strconv.FormatFloat(f, 'f', 2, 64) + "px" },
	"pct": func(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) + "%" },
}).ParseFS(templateFS, "templates/day.html"))

// Server exposes the event store, day layouts and month grids over HTTP.
type Server struct {
	cfg     *config.Config
	store   *store.Store
	engine  layout.Engine
	loc     *time.Location
	metrics *metrics.Metrics
	mux     *http.ServeMux

	// now is the clock used for "today"; tests replace it.
	now func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithClock injects the clock used for "today".
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMetrics records request and layout metrics and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, st *store.Store, opts ...Option) *Server {
	s := &Server{
		cfg:   cfg,
		store: st,
		engine: layout.New(layout.Options{
			HourHeight: cfg.HourHeight,
			MinHeight:  cfg.MinEventHeight,
			WidthMode:  layout.ParseWidthMode(cfg.WidthMode),
		}),
		loc: ResolveLocation(cfg.Timezone),
		mux: http.NewServeMux(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="dayplan", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.handle("GET /health", "health", s.handleHealth)
	s.handle("GET /api/events", "events_list", s.handleListEvents)
	s.handle("POST /api/events", "events_create", s.handleCreateEvent)
	s.handle("GET /api/events/{id}", "events_get", s.handleGetEvent)
	s.handle("DELETE /api/events/{id}", "events_delete", s.handleDeleteEvent)
	s.handle("GET /api/dates", "dates", s.handleDates)
	s.handle("GET /api/slot", "slot", s.handleSlot)
	s.handle("GET /api/layout", "layout", s.handleLayout)
	s.handle("GET /api/month", "month", s.handleMonth)
	s.handle("GET /api/week", "week", s.handleWeek)
	s.handle("GET /api/navigate", "navigate", s.handleNavigate)
	s.handle("GET /calendar.ics", "export", s.handleExport)
	s.handle("GET /day", "day", s.handleDay)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// handle registers fn under pattern and counts responses per route.
func (s *Server) handle(pattern, route string, fn http.HandlerFunc) {
	if s.metrics == nil {
		s.mux.HandleFunc(pattern, fn)
		return
	}
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// today is noon of the injected clock's date in the display timezone.
func (s *Server) today() time.Time {
	return dateutil.Noon(s.now().In(s.loc))
}

// dateParam reads a YYYY-MM-DD query parameter, defaulting to today.
func (s *Server) dateParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return s.today(), nil
	}
	return dateutil.ParseDateKey(v, s.loc)
}

type eventsResponse struct {
	Date   string        `json:"date,omitempty"`
	Events []model.Event `json:"events"`
}

// GET /api/events?date=YYYY-MM-DD (all events when date is absent)
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("date")
	if key == "" {
		writeJSON(w, http.StatusOK, eventsResponse{Events: s.store.All()})
		return
	}
	if _, err := dateutil.ParseDateKey(key, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Date: key, Events: s.store.ForDate(key)})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	// Imported events are owned by their feed.
	ev.Source = ""

	created, err := s.store.Add(ev)
	if err != nil {
		if created.ID == "" {
			s.writeStoreError(w, err)
			return
		}
		appLog.Error("event stored but not persisted", err, "id", created.ID)
	}
	s.observeStore()
	appLog.Info("event created", "id", created.ID, "date", created.Date, "start", created.StartTime)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// GET /api/dates lists every date key holding at least one event.
func (s *Server) handleDates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"dates": s.store.Dates()})
}

type slotResponse struct {
	Minutes int    `json:"minutes"`
	Time    string `json:"time"`
}

// GET /api/slot?y=PX maps a vertical offset on the day track, e.g. a click,
// to the clock time under it at the configured hour height.
func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	y, err := strconv.ParseFloat(r.URL.Query().Get("y"), 64)
	if err != nil || math.IsNaN(y) || math.IsInf(y, 0) {
		writeError(w, http.StatusBadRequest, "y must be a finite number of pixels")
		return
	}
	m := timemath.PixelsToMinutes(y, s.engine.Options.HourHeight)
	writeJSON(w, http.StatusOK, slotResponse{Minutes: m, Time: timemath.MinutesToClock(m)})
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			appLog.Error("event deleted but not persisted", err, "id", id)
		} else {
			s.writeStoreError(w, err)
			return
		}
	}
	s.observeStore()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrDuplicateID), errors.Is(err, store.ErrDayFull):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("store operation failed", err)
		writeError(w, http.StatusInternalServerError, "store operation failed")
	}
}

func (s *Server) observeStore() {
	if s.metrics != nil {
		s.metrics.StoreEvents.Set(float64(s.store.Len()))
	}
}

type layoutResponse struct {
	Date       string                  `json:"date"`
	Columns    int                     `json:"columns"`
	HourHeight float64                 `json:"hourHeight"`
	WidthMode  layout.WidthMode        `json:"widthMode"`
	Events     []model.RenderableEvent `json:"events"`
}

func (s *Server) dayLayout(day time.Time) layoutResponse {
	key := dateutil.DateKey(day)
	events := s.store.ForDate(key)
	rendered := s.engine.ComputeLayout(events)
	columns := layout.Columns(events)
	if s.metrics != nil && len(events) > 0 {
		s.metrics.LayoutColumns.Observe(float64(columns))
		s.metrics.LayoutEvents.Observe(float64(len(events)))
	}
	appLog.Debug("layout computed", "date", key, "events", len(events), "columns", columns)

	return layoutResponse{
		Date:       key,
		Columns:    columns,
		HourHeight: s.engine.Options.HourHeight,
		WidthMode:  s.engine.Options.WidthMode,
		Events:     rendered,
	}
}

// GET /api/layout?date=YYYY-MM-DD
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	day, err := s.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.dayLayout(day))
}

type dayDTO struct {
	Date           string `json:"date"`
	IsCurrentMonth bool   `json:"isCurrentMonth"`
	IsToday        bool   `json:"isToday"`
	EventCount     int    `json:"eventCount"`
}

type weekDTO struct {
	Days []dayDTO `json:"days"`
}

type monthResponse struct {
	Month string    `json:"month"` // YYYY-MM
	Today string    `json:"today"`
	Weeks []weekDTO `json:"weeks"`
}

// GET /api/month?date=YYYY-MM-DD&today=YYYY-MM-DD
//
// today defaults to the server clock and exists so clients can render a
// grid relative to their own notion of the current date.
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	target, err := s.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	today, err := s.dateParam(r, "today")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	weeks := grid.GenerateMonthView(target, today)
	resp := monthResponse{
		Month: dateutil.DateKey(target)[:7],
		Today: dateutil.DateKey(today),
		Weeks: make([]weekDTO, 0, len(weeks)),
	}
	for _, wk := range weeks {
		dto := weekDTO{Days: make([]dayDTO, 0, len(wk.Days))}
		for _, d := range wk.Days {
			key := dateutil.DateKey(d.Date)
			dto.Days = append(dto.Days, dayDTO{
				Date:           key,
				IsCurrentMonth: d.IsCurrentMonth,
				IsToday:        d.IsToday,
				EventCount:     s.store.Count(key),
			})
		}
		resp.Weeks = append(resp.Weeks, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/week?date=YYYY-MM-DD
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	day, err := s.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dates := grid.WeekDates(day)
	keys := make([]string, 0, len(dates))
	for _, d := range dates {
		keys = append(keys, dateutil.DateKey(d))
	}
	writeJSON(w, http.StatusOK, map[string][]string{"dates": keys})
}

// GET /api/navigate?date=YYYY-MM-DD&view=day|week|month&step=-1
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	day, err := s.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := grid.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	step := 1
	if v := r.URL.Query().Get("step"); v != "" {
		step, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "step must be an integer")
			return
		}
		step = max(-grid.MaxStep, min(step, grid.MaxStep))
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"view": string(view),
		"date": dateutil.DateKey(grid.Shift(day, view, step)),
	})
}

// GET /calendar.ics?from=YYYY-MM-DD&to=YYYY-MM-DD (both inclusive, optional)
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	for _, k := range []string{from, to} {
		if k == "" {
			continue
		}
		if _, err := dateutil.ParseDateKey(k, s.loc); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	var selected []model.Event
	for _, ev := range s.store.All() {
		// Date keys sort lexically in calendar order.
		if from != "" && ev.Date < from {
			continue
		}
		if to != "" && ev.Date > to {
			continue
		}
		selected = append(selected, ev)
	}

	body, err := ics.Export(selected, s.loc, s.now())
	if err != nil {
		appLog.Error("ics export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export events")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="dayplan.ics"`)
	_, _ = w.Write([]byte(body))
}

type hourMark struct {
	Label string
	Top   float64
}

type dayPage struct {
	Date       string
	Weekday    string
	Prev, Next string
	Height     float64
	Hours      []hourMark
	Events     []model.RenderableEvent
	NowTop     float64
	ShowNow    bool
}

// GET /day?date=YYYY-MM-DD renders the day timeline as HTML. The root
// element carries data-ready="true" once rendered, which the snapshot
// capture waits for.
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := s.dateParam(r, "date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lay := s.dayLayout(day)
	hh := lay.HourHeight

	page := dayPage{
		Date:    lay.Date,
		Weekday: day.Weekday().String(),
		Prev:    dateutil.DateKey(grid.Shift(day, grid.ViewDay, -1)),
		Next:    dateutil.DateKey(grid.Shift(day, grid.ViewDay, 1)),
		Height:  timemath.MinutesToPixels(timemath.MinutesPerDay, hh),
		Events:  lay.Events,
	}
	for h := 0; h < 24; h++ {
		page.Hours = append(page.Hours, hourMark{
			Label: timemath.MinutesToClock(h * 60),
			Top:   timemath.MinutesToPixels(h*60, hh),
		})
	}
	if now := s.now().In(s.loc); dateutil.DatesEqual(now, day) {
		page.ShowNow = true
		page.NowTop = timemath.MinutesToPixels(now.Hour()*60+now.Minute(), hh)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dayTemplate.Execute(w, page); err != nil {
		appLog.Error("day page render failed", err, "date", lay.Date)
	}
}

// ResolveLocation loads name, falling back to time.Local.
func ResolveLocation(name string) *time.Location {
	if name == "" || name == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
