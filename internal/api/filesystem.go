package api

import (
	"encoding/base64"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) readFile(c echo.Context) error {
	id := c.Param("id")
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path query parameter is required"})
	}

	resp, err := s.manager.ReadFile(c.Request().Context(), id, path)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) writeFile(c echo.Context) error {
	id := c.Param("id")
	var body struct {
		Path     string `json:"path"`
		Content  string `json:"content"`
		IsBase64 bool   `json:"is_base64"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
	}

	resp, err := s.manager.WriteFile(c.Request().Context(), id, body.Path, body.Content, body.IsBase64)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) listFiles(c echo.Context) error {
	id := c.Param("id")
	path := c.QueryParam("path")
	if path == "" {
		path = "/"
	}

	resp, err := s.manager.ListFiles(c.Request().Context(), id, path)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// uploadFile accepts a multipart file and base64-encodes it before
// forwarding to the guest's write_file action, so binary uploads round
// trip through the same JSON RPC frame as a scripted write_file call.
func (s *Server) uploadFile(c echo.Context) error {
	id := c.Param("id")
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "path query parameter is required"})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "multipart field \"file\" is required"})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	resp, err := s.manager.WriteFile(c.Request().Context(), id, path, encoded, true)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
