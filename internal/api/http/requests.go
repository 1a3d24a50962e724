package http

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic/decoder"
	"github.com/gin-gonic/gin"

	"github.com/wckdouglas/rodeo/internal/shared/errs"
)

// maxRequestBytes bounds request bodies. Notebook cells can be large,
// anything past this is abuse.
const maxRequestBytes = 10 << 20

// Every operation binds to its own static struct and unknown JSON
// fields are rejected, so a typo like {"codee": ...} fails loudly at
// the edge instead of silently executing nothing.

type createSessionRequest struct {
	Cmd  string            `json:"cmd"`
	Cwd  string            `json:"cwd,omitempty"`
	Args []string          `json:"args,omitempty"`
	Env  map[string]string `json:"env,omitempty"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type completeRequest struct {
	Code   string `json:"code"`
	Cursor int    `json:"cursor"`
}

type inspectRequest struct {
	Code   string `json:"code"`
	Cursor int    `json:"cursor"`
	Detail int    `json:"detail,omitempty"`
}

type inputReplyRequest struct {
	Value string `json:"value"`
}

type checkInterpreterRequest struct {
	Cmd string `json:"cmd"`
	Cwd string `json:"cwd,omitempty"`
}

type saveArtifactRequest struct {
	Dest string `json:"dest"`
}

type createTerminalRequest struct {
	Shell string            `json:"shell,omitempty"`
	Cwd   string            `json:"cwd,omitempty"`
	Cols  int               `json:"cols,omitempty"`
	Rows  int               `json:"rows,omitempty"`
	Env   map[string]string `json:"env,omitempty"`
}

type terminalInputRequest struct {
	Input string `json:"input"`
}

type resizeTerminalRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// bindStrict decodes the request body into dst, rejecting unknown
// fields and oversized bodies.
func bindStrict(c *gin.Context, dst interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBytes))
	if err != nil {
		return errs.InvalidArgumentf("read request body: %v", err)
	}
	dec := decoder.NewDecoder(string(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.InvalidArgumentf("decode request: %v", err)
	}
	return nil
}

// renderError maps taxonomy errors onto HTTP statuses.
func renderError(c *gin.Context, err error) {
	c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
}
