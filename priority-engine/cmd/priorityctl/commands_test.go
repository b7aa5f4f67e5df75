package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ILLUVRSE/decisions/priority-engine/internal/models"
)

const rulesYAML = `rules:
  - id: critical
    tenants: [tenant-1, tenant-2]
    priority: critical
    warning_threshold_hours: 4
    escalation_threshold_hours: 8
    final_escalation_hours: 24
    initial_owner_role: CFO
    escalate_to_role: COO
    final_escalate_to_role: CEO
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAggregateJSON(t *testing.T) {
	signals := writeFile(t, "signals.json", `[
		{"subjectId":"sku-2","category":"margin_leak","amount":150000000},
		{"subjectId":"sku-1","category":"cash_lock","amount":600000000},
		{"subjectId":"sku-3","category":"bogus","amount":1}
	]`)

	out, err := run(t, "aggregate", "-f", signals, "--json")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	var items []models.PriorityItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].SubjectID != "sku-1" || items[0].Urgency != models.UrgencyCritical {
		t.Errorf("unexpected first item: %+v", items[0])
	}
}

func TestAggregateTable(t *testing.T) {
	signals := writeFile(t, "signals.json", `{"signals":[{"subjectId":"sku-1","category":"size_break","etaDays":3}]}`)

	out, err := run(t, "aggregate", "-f", signals)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !strings.Contains(out, "SUBJECT") || !strings.Contains(out, "sku-1") || !strings.Contains(out, "3d") {
		t.Errorf("unexpected table:\n%s", out)
	}
}

func TestPathUsesRulesFile(t *testing.T) {
	rules := writeFile(t, "rules.yaml", rulesYAML)
	card := writeFile(t, "card.json", `{"tenantId":"tenant-2","subjectId":"sku-1","category":"cash_lock",
		"priority":"critical","createdAt":"2026-03-02T09:00:00Z","ownerRole":"CFO","status":"OPEN","escalationLevel":1}`)

	out, err := run(t, "path", "-f", card, "--rules", rules, "--at", "2026-03-02T19:00:00Z", "--json")
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	var path models.EscalationPath
	if err := json.Unmarshal([]byte(out), &path); err != nil {
		t.Fatalf("decode output: %v (%s)", err, out)
	}
	if path.CurrentLevel != 2 || path.CurrentOwnerRole != "COO" {
		t.Errorf("unexpected path: %+v", path)
	}
	if path.RuleID == nil || *path.RuleID != "critical@tenant-2" {
		t.Errorf("unexpected rule: %v", path.RuleID)
	}

	_, err = run(t, "path", "-f", card, "--at", "yesterday")
	if err == nil {
		t.Fatal("expected error for invalid --at")
	}
}

func TestRulesValidate(t *testing.T) {
	out, err := run(t, "rules", "validate", "-f", writeFile(t, "rules.yaml", rulesYAML))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "2 rules") || !strings.Contains(out, "tenant-1") {
		t.Errorf("unexpected output:\n%s", out)
	}

	bad := writeFile(t, "bad.yaml", "rules:\n  - id: x\n    tenant_id: a\n")
	if _, err := run(t, "rules", "validate", "-f", bad); err == nil {
		t.Fatal("expected validation error")
	}
}
