package backend

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
)

type sessionDetail struct {
	RoomInfo
	Code        string `json:"code"`
	ChatHistory int    `json:"chatHistory"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleLanguages(c echo.Context) error {
	langs := s.runner.Languages()
	sort.Strings(langs)
	return c.JSON(http.StatusOK, langs)
}

func (s *Server) handleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, s.rooms.List())
}

func (s *Server) handleGetSession(c echo.Context) error {
	room, ok := s.rooms.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	code, _ := room.state()
	return c.JSON(http.StatusOK, sessionDetail{
		RoomInfo:    room.info(),
		Code:        code,
		ChatHistory: room.history.Len(),
	})
}
