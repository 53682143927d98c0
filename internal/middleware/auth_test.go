package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"edurank_backend/internal/model"
	"edurank_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRoleRouter(role model.UserRole, required ...model.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user", &util.Claims{UserID: "user-1", Role: role})
		c.Next()
	})
	r.Use(RoleMiddleware(required...))
	r.GET("/export", func(c *gin.Context) { util.Success(c, nil) })
	return r
}

func doGet(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/export", nil))
	return w
}

func TestRoleMiddleware_StudentDeniedOnTeacherRoute(t *testing.T) {
	w := doGet(newRoleRouter(model.Student, model.Teacher))
	require.Equal(t, http.StatusForbidden, w.Code)

	var resp util.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, util.ErrPermissionDenied.Error(), resp.Message)
}

func TestRoleMiddleware_TeacherAllowed(t *testing.T) {
	w := doGet(newRoleRouter(model.Teacher, model.Teacher))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoleMiddleware_AdminBypassesRoleCheck(t *testing.T) {
	w := doGet(newRoleRouter(model.Admin, model.Teacher))
	assert.Equal(t, http.StatusOK, w.Code)
}
