package templates

import (
	"strings"
	"testing"
)

func TestDefaultsCoverEveryStep(t *testing.T) {
	defaults, err := Defaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if len(defaults) != 3 {
		t.Fatalf("expected 3 templates, got %d", len(defaults))
	}
	for _, tpl := range defaults {
		if tpl.SMSBody == "" || tpl.EmailSubject == "" || tpl.EmailBody == "" {
			t.Errorf("template %s has empty content", tpl.Key)
		}
	}
}

func TestParseRejectsIncompleteDocuments(t *testing.T) {
	cases := map[string]string{
		"missing step": "templates:\n  - key: day_2_followup\n  - key: day_5_followup\n",
		"duplicate":    "templates:\n  - key: day_2_followup\n  - key: day_2_followup\n",
		"blank key":    "templates:\n  - key: ' '\n",
		"not yaml":     "templates: [",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestRender(t *testing.T) {
	got := Render("Hi {client_name}, {contractor_name} re: {job_type}{amount}. {unknown}!", Tokens{
		ClientName:     "Dana",
		JobType:        "roofing",
		ContractorName: "Sam",
	})
	if got != "Hi Dana, Sam re: roofing. !" {
		t.Fatalf("unexpected render %q", got)
	}
	if strings.Contains(Render("{business_name}", Tokens{BusinessName: "Acme"}), "{") {
		t.Fatal("token left unrendered")
	}
}
