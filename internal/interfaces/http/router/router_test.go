package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/config"
	"z-novel-canon-api/internal/interfaces/http/handler"
	"z-novel-canon-api/internal/interfaces/http/middleware"
	"z-novel-canon-api/internal/seed"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		ErrorCode string `json:"error_code"`
	} `json:"error"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *seed.Fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := seed.NewMemoryService(canon.Options{})
	fx, err := seed.AshenCrown(context.Background(), svc)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.App.Env = "test"
	r := New(cfg, &Handlers{
		Health:     handler.NewHealthHandler("test"),
		Series:     handler.NewSeriesHandler(svc),
		Character:  handler.NewCharacterHandler(svc),
		Rule:       handler.NewRuleHandler(svc),
		Continuity: handler.NewContinuityHandler(svc),
		Arc:        handler.NewArcHandler(svc),
		Revision:   handler.NewRevisionHandler(svc),
		Context:    handler.NewContextHandler(svc),
	}, nil)
	return r.Engine(), fx
}

func do(t *testing.T, engine *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthEndpoints(t *testing.T) {
	engine, _ := newTestRouter(t)
	for _, path := range []string{"/health", "/ready", "/live"} {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
	}
}

func TestCreateAndGetSeries(t *testing.T) {
	engine, _ := newTestRouter(t)

	w, env := do(t, engine, http.MethodPost, "/v1/series", map[string]any{
		"title": "Salt and Iron", "genre": "fantasy", "target_book_count": 3,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		ID     string `json:"id"`
		Config struct {
			DefaultLockLevel string `json:"default_lock_level"`
		} `json:"config"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "suggestion", created.Config.DefaultLockLevel)

	w, _ = do(t, engine, http.MethodGet, "/v1/series/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, engine, http.MethodPost, "/v1/series", map[string]any{"genre": "fantasy"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = do(t, engine, http.MethodGet, "/v1/series/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "3001", env.Error.ErrorCode)
}

func TestPatchSeries(t *testing.T) {
	engine, fx := newTestRouter(t)

	w, env := do(t, engine, http.MethodPatch, "/v1/series/"+fx.SeriesID,
		`[{"op":"replace","path":"/title","value":"The Ashen Throne"}]`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var patched struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &patched))
	assert.Equal(t, "The Ashen Throne", patched.Title)

	w, _ = do(t, engine, http.MethodPatch, "/v1/series/"+fx.SeriesID,
		`[{"op":"replace","path":"/config/default_lock_level","value":"immutable"}]`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommitBlockedByImmutableFact(t *testing.T) {
	engine, fx := newTestRouter(t)

	w, env := do(t, engine, http.MethodPost, "/v1/series/"+fx.SeriesID+"/commit", map[string]any{
		"locator": map[string]int{"book": 3, "chapter": 1},
		"facts": []map[string]any{{
			"kind":      "attribute",
			"attribute": map[string]string{"subject_id": fx.KaelID, "key": seed.AttrMissingRightHand, "value": "false"},
		}},
	}, map[string]string{middleware.ActorHeader: "author"})
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Blocked    bool `json:"blocked"`
		Violations []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"violations"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.True(t, result.Blocked)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "detected", result.Violations[0].Status)

	w, _ = do(t, engine, http.MethodGet, "/v1/series/"+fx.SeriesID+"/violations?status=detected,acknowledged", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = do(t, engine, http.MethodPatch, "/v1/violations/"+result.Violations[0].ID,
		map[string]string{"status": "dismissed"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, engine, http.MethodPatch, "/v1/violations/"+result.Violations[0].ID,
		map[string]string{"status": "acknowledged"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "dismissed is terminal")
	require.NotNil(t, env.Error)
	assert.Equal(t, "4016", env.Error.ErrorCode)

	w, _ = do(t, engine, http.MethodPost, "/v1/series/"+fx.SeriesID+"/commit", map[string]any{"facts": []any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRevisionApplyOverHTTP(t *testing.T) {
	engine, fx := newTestRouter(t)
	body := map[string]any{
		"kind":          "retcon",
		"target_type":   "character",
		"target_id":     fx.KaelID,
		"delta":         map[string]string{seed.AttrHometown: "Meridia"},
		"justification": "Kael was raised in Meridia",
	}

	w, env := do(t, engine, http.MethodPost, "/v1/series/"+fx.SeriesID+"/revisions/plan", body, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var plan struct {
		Fingerprint string `json:"fingerprint"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &plan))
	require.NotEmpty(t, plan.Fingerprint)

	headers := map[string]string{"Idempotency-Key": "http-retcon", middleware.ActorHeader: "editor"}
	withApproval := map[string]any{}
	for k, v := range body {
		withApproval[k] = v
	}
	withApproval["approval"] = map[string]string{"plan_fingerprint": plan.Fingerprint}

	w, env = do(t, engine, http.MethodPost, "/v1/series/"+fx.SeriesID+"/revisions/apply", withApproval, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var applied struct {
		Replayed bool `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &applied))
	assert.False(t, applied.Replayed)

	w, env = do(t, engine, http.MethodPost, "/v1/series/"+fx.SeriesID+"/revisions/apply", withApproval, headers)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &applied))
	assert.True(t, applied.Replayed)

	withApproval["delta"] = map[string]string{seed.AttrHometown: "Ashfall"}
	w, _ = do(t, engine, http.MethodPost, "/v1/series/"+fx.SeriesID+"/revisions/apply", withApproval, headers)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCompileContextOverHTTP(t *testing.T) {
	engine, fx := newTestRouter(t)

	w, env := do(t, engine, http.MethodPost, "/v1/series/"+fx.SeriesID+"/context", map[string]any{
		"cutoff":     map[string]int{"book": 2, "chapter": 4},
		"scene_refs": []string{fx.MiraID},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), fx.MiraID)
}
