package validator

import "testing"

type testItem struct {
	ID string `json:"client_mutation_id" validate:"required,uuid"`
}

type testRequest struct {
	DeviceID string     `json:"device_id" validate:"required,uuid"`
	At       string     `json:"estimate_sent_at" validate:"omitempty,iso8601"`
	Items    []testItem `json:"mutations" validate:"required,min=1,dive"`
}

func TestDescribeUsesJSONFieldPaths(t *testing.T) {
	val := New()
	err := val.Struct(testRequest{
		DeviceID: "a1b2c3d4-0000-4000-8000-000000000001",
		Items:    []testItem{{ID: "not-a-uuid"}},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}

	got := Describe(err)
	want := "mutations[0].client_mutation_id: must be a valid UUID"
	if got != want {
		t.Fatalf("Describe() = %q, want %q", got, want)
	}
}

func TestISO8601Tag(t *testing.T) {
	val := New()
	base := testRequest{
		DeviceID: "a1b2c3d4-0000-4000-8000-000000000001",
		Items:    []testItem{{ID: "a1b2c3d4-0000-4000-8000-000000000002"}},
	}

	base.At = "2026-02-17T23:30:00Z"
	if err := val.Struct(base); err != nil {
		t.Fatalf("expected RFC3339 timestamp to pass, got %v", err)
	}

	base.At = "yesterday"
	err := val.Struct(base)
	if err == nil {
		t.Fatal("expected invalid timestamp to fail")
	}
	if got := Describe(err); got != "estimate_sent_at: must be a valid ISO-8601 datetime" {
		t.Fatalf("unexpected description %q", got)
	}
}
