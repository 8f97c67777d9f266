package webserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/zapmirror/zapmirror/internal/app"
)

// ContextAppKey is the echo context key the application context is stored
// under; handlers reach the database and config through it.
const ContextAppKey = "zapmirror_app"

var server *WebServer

type WebServer struct {
	appCtx app.AppContext
	root   *echo.Echo
	api    *echo.Group
}

type webValidator struct {
	validate *validator.Validate
}

func (w *webValidator) Validate(i interface{}) error {
	return w.validate.Struct(i)
}

// Init builds the package-level server instance. Route registration helpers
// (ApiGET etc.) only work after Init has run.
func Init(appCtx app.AppContext) *WebServer {
	server = &WebServer{
		appCtx: appCtx,
		root:   echo.New(),
	}
	server.initRouter()
	return server
}

func Listen() error {
	cfg := server.appCtx.Config()
	zap.S().Infof("admin http server listen %s:%d", cfg.Web.Host, cfg.Web.Port)
	return server.root.Start(fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port))
}

func (s *WebServer) initRouter() {
	s.root.HideBanner = true
	s.root.HidePort = true
	s.root.Validator = &webValidator{validate: validator.New()}
	s.root.Use(middleware.Recover())
	s.root.Use(middleware.CORS())
	s.root.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ContextAppKey, s.appCtx)
			return next(c)
		}
	})
	s.root.Use(serverLogger())

	jwtConfig := echojwt.Config{
		SigningKey: []byte(s.appCtx.Config().Web.Secret),
		Skipper: func(c echo.Context) bool {
			return strings.HasPrefix(c.Path(), "/api/auth/login")
		},
	}
	s.api = s.root.Group("/api", echojwt.WithConfig(jwtConfig))

	s.root.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})
}

func serverLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Status >= http.StatusInternalServerError {
				zap.S().Errorf("http %s %s %d: %v", v.Method, v.URI, v.Status, v.Error)
			} else {
				zap.S().Debugf("http %s %s %d", v.Method, v.URI, v.Status)
			}
			return nil
		},
	})
}

// Echo exposes the underlying router (used by tests).
func (s *WebServer) Echo() *echo.Echo {
	return s.root
}

// Authenticated API routes, mounted under /api behind the JWT middleware.

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

// Public routes, mounted on the root router with no auth. Used for the
// gateway webhook intake and the login endpoint.

func PubGET(path string, h echo.HandlerFunc) {
	server.root.GET(path, h)
}

func PubPOST(path string, h echo.HandlerFunc) {
	server.root.POST(path, h)
}
