package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progress89/evaluation-api/internal/middleware"
	"github.com/progress89/evaluation-api/internal/models"
)

func anonymousContext(t *testing.T, method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, bytes.NewReader(nil))
	return c, rec
}

func TestEvaluationHandlerRequiresAuthentication(t *testing.T) {
	handler := NewEvaluationHandler(nil)

	endpoints := map[string]func(*gin.Context){
		"list":        handler.List,
		"get":         handler.Get,
		"create":      handler.Create,
		"grades":      handler.SaveGrades,
		"transition":  handler.Transition,
		"comments":    handler.ListComments,
		"add_comment": handler.AddComment,
	}
	for name, endpoint := range endpoints {
		c, rec := anonymousContext(t, http.MethodGet, "/evaluations")
		endpoint(c)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, name)

		var env envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, "UNAUTHORIZED", env.Error["code"], name)
	}
}

func TestEvaluationHandlerRejectsUnknownStatusFilter(t *testing.T) {
	handler := NewEvaluationHandler(nil)

	c, rec := teacherContext(t, http.MethodGet, "/evaluations?status=cancelled", nil)
	handler.List(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "VALIDATION_ERROR", env.Error["code"])
}

func TestEvaluationHandlerRejectsMalformedTransitionPayload(t *testing.T) {
	handler := NewEvaluationHandler(nil)

	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPatch, "/evaluations/e1/status", bytes.NewReader([]byte("{not json")))
	c.Request.Header.Set("Content-Type", binding.MIMEJSON)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "t1", Role: models.RoleTeacher})
	c.Params = gin.Params{{Key: "id", Value: "e1"}}

	handler.Transition(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "VALIDATION_ERROR", env.Error["code"])
}
