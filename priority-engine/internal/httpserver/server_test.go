package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/aggregator"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/cards"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/collector"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/confidence"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/notify"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/pass"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/principal"
	"github.com/ILLUVRSE/decisions/priority-engine/internal/store"
)

const (
	testTenant = "tenant-1"
	jwtSecret  = "test-secret"
)

type downStore struct {
	*store.MemoryStore
}

func (downStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

func newHTTPTestServer(t *testing.T, secret string) (*store.MemoryStore, http.Handler) {
	t.Helper()
	mem := store.NewMemoryStore()
	svc := cards.New(mem, &notify.Recorder{}, cards.Options{})
	agg := aggregator.New(nil, aggregator.Options{MaxItems: 7})
	fan := collector.NewFanOut(nil, time.Second, collector.ViewCollectors(mem)...)
	srv := New(Deps{
		Store:      mem,
		Cards:      svc,
		Resolver:   confidence.NewResolver(mem, mem, confidence.Options{CacheSize: 16, LockedTTL: time.Minute, ObservedTTL: time.Minute}),
		Aggregator: agg,
		Runner:     pass.NewRunner(fan, agg, svc, mem, pass.Config{}, nil),
		Principals: principal.NewExtractor(secret),
	})
	return mem, srv.Router()
}

func doRequest(router http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func tenantPath(format string, args ...interface{}) string {
	return "/v1/tenants/" + testTenant + fmt.Sprintf(format, args...)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
}

func createCard(t *testing.T, router http.Handler) models.DecisionCard {
	t.Helper()
	body := []byte(`{"item":{"subjectId":"sku-1","dominantCategory":"cash_lock","totalDamage":650000000,"urgency":"critical"}}`)
	rec := doRequest(router, "POST", tenantPath("/cards"), body, map[string]string{principal.ActorHeader: "coo@example.com"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var card models.DecisionCard
	decodeBody(t, rec, &card)
	return card
}

func TestHealth(t *testing.T) {
	_, router := newHTTPTestServer(t, "")
	rec := doRequest(router, "GET", "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	srv := New(Deps{Store: downStore{store.NewMemoryStore()}})
	rec = doRequest(srv.Router(), "GET", "/health", nil, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when db is down, got %d", rec.Code)
	}
}

func TestAggregateRanksSignals(t *testing.T) {
	_, router := newHTTPTestServer(t, "")
	body := []byte(`{"signals":[
		{"subjectId":"sku-2","category":"margin_leak","amount":150000000},
		{"subjectId":"sku-1","category":"cash_lock","amount":400000000},
		{"subjectId":"sku-1","category":"lost_revenue","amount":250000000}
	],"maxItems":1}`)

	rec := doRequest(router, "POST", tenantPath("/aggregate"), body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Items []models.PriorityItem `json:"items"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(resp.Items))
	}
	if resp.Items[0].SubjectID != "sku-1" || resp.Items[0].TotalDamage != 650_000_000 || resp.Items[0].Urgency != models.UrgencyCritical {
		t.Fatalf("unexpected top item: %+v", resp.Items[0])
	}
}

func TestAggregatePartialThresholds(t *testing.T) {
	_, router := newHTTPTestServer(t, "")
	body := []byte(`{"signals":[
		{"subjectId":"sku-1","category":"cash_lock","amount":2000},
		{"subjectId":"sku-2","category":"markdown_risk","etaDays":10},
		{"subjectId":"sku-2","category":"margin_leak","amount":10}
	],"thresholds":{"urgentDamage":1000}}`)

	rec := doRequest(router, "POST", tenantPath("/aggregate"), body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Items []models.PriorityItem `json:"items"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.Items[0].SubjectID != "sku-1" || resp.Items[0].Urgency != models.UrgencyUrgent {
		t.Fatalf("expected sku-1 urgent from its damage, got %+v", resp.Items[0])
	}
	if resp.Items[1].Urgency != models.UrgencyUrgent {
		t.Fatalf("expected default ETA thresholds to keep sku-2 urgent, got %s", resp.Items[1].Urgency)
	}
}

func TestAggregateRejectsUnknownFields(t *testing.T) {
	_, router := newHTTPTestServer(t, "")
	rec := doRequest(router, "POST", tenantPath("/aggregate"), []byte(`{"signalz":[]}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestResolveMetricFallsBackToEstimate(t *testing.T) {
	mem, router := newHTTPTestServer(t, "")
	rec := doRequest(router, "GET", tenantPath("/metrics/cogsPercent?default=55"), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var m models.ResolvedMetric
	decodeBody(t, rec, &m)
	if m.Tier != models.TierEstimated || m.Value != 55 || m.SourceID != "benchmark" {
		t.Fatalf("unexpected metric: %+v", m)
	}

	mem.SetLockedMetric(testTenant, "avgOrderValue", store.LockedMetric{Value: 81, SourceID: "close-2026-02", SourceModule: "finance"})
	rec = doRequest(router, "GET", tenantPath("/metrics/avgOrderValue?default=60&source=industry"), nil, nil)
	decodeBody(t, rec, &m)
	if m.Tier != models.TierLocked || m.Value != 81 || !m.IsCrossModule {
		t.Fatalf("unexpected metric: %+v", m)
	}

	rec = doRequest(router, "GET", tenantPath("/metrics/cogsPercent"), nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without default, got %d", rec.Code)
	}
}

func TestResolveMetricsBatch(t *testing.T) {
	mem, router := newHTTPTestServer(t, "")
	mem.SetObservedMetric(testTenant, "returnRate", store.ObservedMetric{Value: 0.12, SourceID: "orders"})

	body := []byte(`{"metrics":[{"key":"returnRate","default":0.2},{"key":"cogsPercent","default":55,"source":"industry"}]}`)
	rec := doRequest(router, "POST", tenantPath("/metrics/resolve"), body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var resp struct {
		Metrics []models.ResolvedMetric `json:"metrics"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Metrics) != 2 || resp.Metrics[0].Tier != models.TierObserved || resp.Metrics[1].SourceID != "industry" {
		t.Fatalf("unexpected metrics: %+v", resp.Metrics)
	}
}

func TestCardLifecycleOverHTTP(t *testing.T) {
	_, router := newHTTPTestServer(t, "")
	card := createCard(t, router)
	if card.Status != models.CardStatusNew || card.OwnerRole != models.RoleCFO {
		t.Fatalf("unexpected card: %+v", card)
	}

	rec := doRequest(router, "POST", tenantPath("/cards/%s/transition", card.ID), []byte(`{"action":"approve","comment":"go"}`),
		map[string]string{principal.ActorHeader: "cfo@example.com"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, "POST", tenantPath("/cards/%s/transition", card.ID), []byte(`{"action":"REJECT"}`), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on resolved card, got %d", rec.Code)
	}
	var errResp map[string]string
	decodeBody(t, rec, &errResp)
	if errResp["code"] != codeAlreadyResolved {
		t.Fatalf("expected ALREADY_RESOLVED, got %v", errResp)
	}

	rec = doRequest(router, "GET", tenantPath("/cards/%s/history", card.ID), nil, nil)
	var history cards.CardHistory
	decodeBody(t, rec, &history)
	if len(history.Audit) != 1 || history.Audit[0].Actor != "cfo@example.com" {
		t.Fatalf("unexpected audit trail: %+v", history.Audit)
	}

	rec = doRequest(router, "POST", tenantPath("/cards/%s/reactivate", card.ID), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on reactivate, got %d (%s)", rec.Code, rec.Body.String())
	}
	var back models.DecisionCard
	decodeBody(t, rec, &back)
	if back.Status != models.CardStatusNew {
		t.Fatalf("expected NEW after reactivate, got %s", back.Status)
	}
}

func TestCardErrors(t *testing.T) {
	_, router := newHTTPTestServer(t, "")

	rec := doRequest(router, "GET", tenantPath("/cards/not-a-uuid"), nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = doRequest(router, "GET", tenantPath("/cards/%s", uuid.New()), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doRequest(router, "POST", tenantPath("/cards"),
		[]byte(`{"item":{"subjectId":"sku-1","dominantCategory":"size_break","urgency":"warning"}}`), nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doRequest(router, "POST", tenantPath("/cards"), []byte(`{}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	card := createCard(t, router)
	rec = doRequest(router, "POST", tenantPath("/cards/%s/transition", card.ID), []byte(`{"action":"ARCHIVE"}`), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d", rec.Code)
	}
	rec = doRequest(router, "GET", "/v1/tenants/tenant-2/cards/"+card.ID.String(), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across tenants, got %d", rec.Code)
	}
}

func TestEscalationEndpoints(t *testing.T) {
	mem, router := newHTTPTestServer(t, "")
	_, err := mem.UpsertRule(context.Background(), models.EscalationRule{
		ID: "default", TenantID: testTenant, IsActive: true,
		WarningThresholdHours: 12, EscalationThresholdHours: 24, FinalEscalationHours: 72,
		InitialOwnerRole: models.RoleCOO, EscalateToRole: models.RoleCFO, FinalEscalateToRole: models.RoleCEO,
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	card := createCard(t, router)

	rec := doRequest(router, "GET", tenantPath("/cards/%s/path", card.ID), nil, nil)
	var path models.EscalationPath
	decodeBody(t, rec, &path)
	if path.CurrentLevel != 1 || path.NextEscalationRole == nil || *path.NextEscalationRole != models.RoleCFO {
		t.Fatalf("unexpected path: %+v", path)
	}

	rec = doRequest(router, "POST", tenantPath("/cards/%s/escalate", card.ID), []byte(`{"reason":"needs budget"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var escalated models.DecisionCard
	decodeBody(t, rec, &escalated)
	if escalated.EscalationLevel != 2 || !escalated.ManualOverride {
		t.Fatalf("unexpected card after escalate: %+v", escalated)
	}

	rec = doRequest(router, "POST", tenantPath("/cards/%s/reset", card.ID), nil, nil)
	var reset models.DecisionCard
	decodeBody(t, rec, &reset)
	if reset.ManualOverride || reset.EscalationLevel != 1 {
		t.Fatalf("unexpected card after reset: %+v", reset)
	}
}

func TestAlertFeed(t *testing.T) {
	_, router := newHTTPTestServer(t, "")
	card := createCard(t, router)

	rec := doRequest(router, "POST", tenantPath("/alerts"), []byte(`{"subjectId":"sku-1","kind":"stockout","message":"sku-1 out of stock"}`), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var alert models.Alert
	decodeBody(t, rec, &alert)

	rec = doRequest(router, "POST", tenantPath("/cards/%s/alerts", card.ID), []byte(fmt.Sprintf(`{"alertId":%q}`, alert.ID)), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doRequest(router, "GET", tenantPath("/alerts"), nil, nil)
	var feed struct {
		Alerts []models.Alert `json:"alerts"`
	}
	decodeBody(t, rec, &feed)
	if len(feed.Alerts) != 0 {
		t.Fatalf("linked alert should be hidden, got %d", len(feed.Alerts))
	}
}

func TestRunPassEndpoint(t *testing.T) {
	mem, router := newHTTPTestServer(t, "")
	mem.AddSignals(store.ViewCashLock, testTenant, models.Signal{SubjectID: "sku-1", Category: models.CategoryCashLock, Amount: 600_000_000})

	rec := doRequest(router, "POST", tenantPath("/passes"), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var res pass.Result
	decodeBody(t, rec, &res)
	if len(res.Created) != 1 || len(res.Items) != 1 {
		t.Fatalf("unexpected pass result: %+v", res)
	}
}

func signToken(t *testing.T, sub, tenant string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       sub,
		"tenant_id": tenant,
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestPrincipalMiddleware(t *testing.T) {
	_, router := newHTTPTestServer(t, jwtSecret)

	rec := doRequest(router, "GET", tenantPath("/alerts"), nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(router, "GET", tenantPath("/alerts"), nil,
		map[string]string{"Authorization": "Bearer " + signToken(t, "cfo@example.com", "tenant-2")})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign tenant, got %d", rec.Code)
	}

	body := []byte(`{"item":{"subjectId":"sku-1","dominantCategory":"cash_lock","totalDamage":650000000,"urgency":"critical"}}`)
	auth := map[string]string{"Authorization": "Bearer " + signToken(t, "cfo@example.com", testTenant)}
	rec = doRequest(router, "POST", tenantPath("/cards"), body, auth)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	var card models.DecisionCard
	decodeBody(t, rec, &card)

	rec = doRequest(router, "POST", tenantPath("/cards/%s/transition", card.ID), []byte(`{"action":"APPROVE"}`), auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	rec = doRequest(router, "GET", tenantPath("/cards/%s/history", card.ID), nil, auth)
	var history cards.CardHistory
	decodeBody(t, rec, &history)
	if len(history.Audit) != 1 || history.Audit[0].Actor != "cfo@example.com" {
		t.Fatalf("expected audit actor from token, got %+v", history.Audit)
	}
}
