package httpx_test

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/mave-cms/tenantcore/pkg/errx"
	"github.com/mave-cms/tenantcore/pkg/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testErrors  = errx.NewRegistry("WIDGET")
	codeMissing = testErrors.Register("MISSING", errx.TypeNotFound, http.StatusNotFound, "Widget not found")
)

type createWidget struct {
	Name  string `json:"name" validate:"required,min=2"`
	Email string `json:"email" validate:"required,email"`
}

func newApp(debug bool) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: httpx.ErrorHandler(debug)})
	app.Post("/widgets", func(c *fiber.Ctx) error {
		var in createWidget
		if err := httpx.Bind(c, &in); err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(in)
	})
	app.Get("/widgets", func(c *fiber.Ctx) error {
		p := httpx.Pagination(c)
		return c.JSON(fiber.Map{"page": p.Page, "page_size": p.PageSize})
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return testErrors.NewWithCause(codeMissing, errors.New("no rows")).WithDetail("id", "w-1")
	})
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("kaboom")
	})
	return app
}

func call(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestBindValidatesFields(t *testing.T) {
	app := newApp(false)

	status, body := call(t, app, http.MethodPost, "/widgets", `{"name":"x","email":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, httpx.CodeInvalidFields.Code, body["code"])
	details := body["details"].(map[string]any)
	fields := details["fields"].(map[string]any)
	assert.Equal(t, "min", fields["name"])
	assert.Equal(t, "email", fields["email"])

	status, body = call(t, app, http.MethodPost, "/widgets", `{"name":"Gizmo","email":"g@acme.test"}`)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Gizmo", body["name"])
}

func TestBindRejectsMalformedBody(t *testing.T) {
	status, body := call(t, newApp(false), http.MethodPost, "/widgets", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, httpx.CodeMalformedBody.Code, body["code"])
}

func TestPagination(t *testing.T) {
	app := newApp(false)

	_, body := call(t, app, http.MethodGet, "/widgets", "")
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 20, body["page_size"])

	_, body = call(t, app, http.MethodGet, "/widgets?page=0&page_size=500", "")
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 100, body["page_size"])
}

func TestErrorHandlerRendersErrx(t *testing.T) {
	status, body := call(t, newApp(false), http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "WIDGET_MISSING", body["code"])
	assert.Equal(t, "NOT_FOUND", body["type"])
	assert.Equal(t, "Widget not found", body["error"])
	assert.Equal(t, "req-42", body["request_id"])
	assert.Equal(t, "w-1", body["details"].(map[string]any)["id"])
	assert.NotContains(t, body, "underlying_error")

	_, body = call(t, newApp(true), http.MethodGet, "/missing", "")
	assert.Equal(t, "no rows", body["underlying_error"])
}

func TestErrorHandlerFallbacks(t *testing.T) {
	app := newApp(false)

	status, body := call(t, app, http.MethodGet, "/teapot", "")
	assert.Equal(t, http.StatusTeapot, status)
	assert.Equal(t, "HTTP_ERROR", body["code"])

	status, body = call(t, app, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.NotContains(t, body["error"], "kaboom")
}
