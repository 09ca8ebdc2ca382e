package handlers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost-scheduler/configs"
	"github.com/maheshrc27/crosspost-scheduler/internal/api/handlers"
	"github.com/maheshrc27/crosspost-scheduler/internal/api/middleware"
	"github.com/maheshrc27/crosspost-scheduler/internal/crosspost"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/internal/testutil"
	"github.com/maheshrc27/crosspost-scheduler/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "handler-secret"

type apiFixture struct {
	app    *fiber.App
	items  *testutil.ItemStore
	ledger *testutil.Ledger
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		items:  testutil.NewItemStore(),
		ledger: testutil.NewLedger(map[int64]float64{5: 1}),
	}
	key := utils.TokenKey(secret)
	scope := service.NewScopeService(&testutil.Teams{}, time.Minute, 16, nil)
	items := service.NewItemService(f.items, &testutil.TxRunner{}, scope, &testutil.SocialAccounts{},
		&testutil.Publisher{}, &testutil.Dispatcher{},
		service.ItemServiceConfig{Platform: "threads", ScheduleWindow: 15 * 24 * time.Hour, TokenKey: key}, nil)
	timeline := service.NewTimelineService(f.items, scope, nil, 10, nil)
	credits := service.NewCreditService(f.ledger, &testutil.Generator{Produced: 1}, 1.2, nil)

	cfg := config.Config{SecretKey: secret, CookieName: "session"}
	f.app = fiber.New()
	api := f.app.Group("/api")
	api.Use(middleware.NewAuthMiddleware(cfg).AuthMiddleware())
	handlers.NewItemHandler(items, timeline).Register(api)
	handlers.NewCreditHandler(credits, "threads").Register(api)
	return f
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	token, err := utils.GenerateToken(secret, "5", nil, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	f := newAPI(t)
	resp, err := f.app.Test(httptest.NewRequest(http.MethodGet, "/api/items", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	resp, err = f.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestCreateThenList(t *testing.T) {
	f := newAPI(t)
	at := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	status, body := f.do(t, http.MethodPost, "/api/items", `{"content":"hello","scheduled_at":"`+at+`"}`)
	require.Equal(t, fiber.StatusCreated, status, body)
	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "scheduled", body["status"])

	status, body = f.do(t, http.MethodGet, "/api/items?limit=5", "")
	require.Equal(t, fiber.StatusOK, status)
	list, _ := body["items"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].(map[string]any)["id"])

	status, body = f.do(t, http.MethodPost, "/api/items/"+id+"/cancel", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "cancelled", body["status"])
}

func TestErrorMapping(t *testing.T) {
	f := newAPI(t)
	external := crosspost.ExternalID(crosspost.SourceComposer, "42")

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"missing schedule", http.MethodPost, "/api/items", `{"content":"x"}`, fiber.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/items", `{`, fiber.StatusBadRequest},
		{"bad page size", http.MethodGet, "/api/items?limit=500", "", fiber.StatusBadRequest},
		{"external row", http.MethodPost, "/api/items/" + external + "/cancel", "", fiber.StatusConflict},
		{"unknown item", http.MethodPost, "/api/items/missing/retry", "", fiber.StatusNotFound},
		{"unknown delete", http.MethodDelete, "/api/items/missing", "", fiber.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := f.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, status, body)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGenerateReportsInsufficientCredits(t *testing.T) {
	f := newAPI(t)

	status, body := f.do(t, http.MethodPost, "/api/generate", `{"prompt":"launch","variants":1}`)
	require.Equal(t, fiber.StatusPaymentRequired, status, body)
	assert.Equal(t, 1.2, body["credits_required"])
	assert.Equal(t, 1.0, body["credits_available"])

	status, body = f.do(t, http.MethodGet, "/api/credits", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, 1.0, body["balance"])
}
