// Package web serves the read-side dashboard API: stats, birthday and
// manual-wish listings, and deletes. It shares the store with the bot but
// never talks to the chat platform.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wishbot/internal/store"
	"wishbot/internal/transport"
	"wishbot/pkg/logx"
)

type Server struct {
	st       *store.Store
	password string
	loc      *time.Location
	log      logx.Logger
	now      func() time.Time
}

func NewServer(st *store.Store, password string, loc *time.Location, log logx.Logger) *Server {
	if loc == nil {
		loc = time.UTC
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{st: st, password: password, loc: loc, log: log}
	s.now = func() time.Time { return time.Now().In(loc) }
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api", s.auth)
	api.GET("/stats", s.getStats)
	api.GET("/birthdays", s.listBirthdays)
	api.DELETE("/birthdays/:id", s.deleteBirthday)
	api.GET("/wishes", s.listWishes)
	api.DELETE("/wishes/:id", s.deleteWish)
	api.GET("/upcoming", s.getUpcoming)

	return r
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("dashboard listening", logx.String("addr", listen))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// auth requires "Authorization: Bearer <admin password>".
func (s *Server) auth(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.password)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) getStats(c *gin.Context) {
	ctx := c.Request.Context()

	totalBirthdays, err := s.st.CountBirthdays(ctx)
	if err != nil {
		s.serverError(c, err)
		return
	}
	totalWishes, err := s.st.CountManualWishes(ctx)
	if err != nil {
		s.serverError(c, err)
		return
	}
	byMonth, err := s.st.BirthdaysByMonth(ctx)
	if err != nil {
		s.serverError(c, err)
		return
	}
	upcoming, err := s.upcoming(ctx, 7)
	if err != nil {
		s.serverError(c, err)
		return
	}

	months := make([]gin.H, 0, len(byMonth))
	for _, mc := range byMonth {
		months = append(months, gin.H{"month": mc.Month, "count": mc.Count})
	}
	c.JSON(http.StatusOK, gin.H{
		"total_birthdays":    totalBirthdays,
		"total_wishes":       totalWishes,
		"birthdays_by_month": months,
		"upcoming_birthdays": upcoming,
	})
}

func (s *Server) listBirthdays(c *gin.Context) {
	all, err := s.st.AllBirthdays(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	out := make([]gin.H, 0, len(all))
	for _, b := range all {
		out = append(out, gin.H{"member_id": b.MemberID, "day": b.Day, "month": b.Month, "year": b.Year})
	}
	c.JSON(http.StatusOK, gin.H{"birthdays": out})
}

func (s *Server) deleteBirthday(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}
	deleted, err := s.st.DeleteBirthday(c.Request.Context(), id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "birthday not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) listWishes(c *gin.Context) {
	wishes, err := s.st.ListManualWishes(c.Request.Context())
	if err != nil {
		s.serverError(c, err)
		return
	}
	out := make([]gin.H, 0, len(wishes))
	for _, w := range wishes {
		mention := transport.MentionFromStore(w.MentionKind, w.MentionRoleID)
		out = append(out, gin.H{
			"id": w.ID, "name": w.Name,
			"day": w.Day, "month": w.Month, "year": w.Year,
			"message":      w.Message,
			"mention_kind": w.MentionKind, "mention_role_id": w.MentionRoleID,
			"mention": strings.TrimSpace(mention.Prefix()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"wishes": out})
}

func (s *Server) deleteWish(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wish id"})
		return
	}
	deleted, err := s.st.DeleteManualWish(c.Request.Context(), id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "wish not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) getUpcoming(c *gin.Context) {
	days := 30
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 366 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
			return
		}
		days = n
	}
	upcoming, err := s.upcoming(c.Request.Context(), days)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upcoming": upcoming})
}

type upcomingBirthday struct {
	MemberID  int64 `json:"member_id"`
	Day       int   `json:"day"`
	Month     int   `json:"month"`
	Year      int   `json:"year"`
	DaysUntil int   `json:"days_until"`
}

// upcoming lists birthdays whose next occurrence falls within the window.
// Feb-29 entries are skipped in years where the date does not exist.
func (s *Server) upcoming(ctx context.Context, window int) ([]upcomingBirthday, error) {
	all, err := s.st.AllBirthdays(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	out := make([]upcomingBirthday, 0)
	for _, b := range all {
		occurrence, ok := nextOccurrence(b.Day, b.Month, today)
		if !ok {
			continue
		}
		daysUntil := daysBetween(today, occurrence)
		if daysUntil <= window {
			out = append(out, upcomingBirthday{
				MemberID: b.MemberID, Day: b.Day, Month: b.Month, Year: b.Year,
				DaysUntil: daysUntil,
			})
		}
	}
	// Soonest first, stable by member id from the store's ordering.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].DaysUntil < out[j-1].DaysUntil; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

// nextOccurrence finds the first calendar-valid (day, month) on or after
// today. ok is false when the date exists in neither this year nor next
// (never happens for valid records except Feb-29 across two leap gaps).
func nextOccurrence(day, month int, today time.Time) (time.Time, bool) {
	for year := today.Year(); year <= today.Year()+4; year++ {
		d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, today.Location())
		if d.Day() != day || int(d.Month()) != month {
			continue // not a real date this year (Feb 29)
		}
		if !d.Before(today) {
			return d, true
		}
	}
	return time.Time{}, false
}

// daysBetween counts calendar days, not wall-clock duration: a 23-hour
// DST spring-forward day still counts as one day.
func daysBetween(from, to time.Time) int {
	f := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	t := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(t.Sub(f) / (24 * time.Hour))
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.log.Error("dashboard request failed", logx.Err(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
