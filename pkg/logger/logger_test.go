package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func captureLogs(t *testing.T, lvl zerolog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf, lvl)
	t.Cleanup(func() { Init("info") })
	return &buf
}

func TestPrintfHelpers(t *testing.T) {
	buf := captureLogs(t, zerolog.InfoLevel)

	Infof("[ReportService] built %d sheets", 5)
	Warnf("[SnapshotSync] %s failed", "qa")

	out := buf.String()
	if !strings.Contains(out, "built 5 sheets") {
		t.Errorf("expected info line, got %q", out)
	}
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got %q", out)
	}
}

func TestInit_InvalidLevelDefaultsToInfo(t *testing.T) {
	Init("chatty")
	defer Init("info")
	if got := Get().GetLevel(); got != zerolog.InfoLevel {
		t.Errorf("level = %s, expected info", got)
	}
}

func TestGinLogger_QuietPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t, zerolog.InfoLevel)

	r := gin.New()
	r.Use(GinLogger())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	r.GET("/api/leaderboard", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		path   string
		logged bool
	}{
		{"/health", false},
		{"/metrics", true},
		{"/api/leaderboard", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			buf.Reset()
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", tt.path, nil)
			r.ServeHTTP(w, req)

			logged := strings.Contains(buf.String(), `"path":"`+tt.path+`"`)
			if logged != tt.logged {
				t.Errorf("logged = %v, expected %v (output %q)", logged, tt.logged, buf.String())
			}
		})
	}
}

func TestGinRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogs(t, zerolog.InfoLevel)

	r := gin.New()
	r.Use(GinRecovery())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/boom", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got %q", buf.String())
	}
}
