package validation

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/xuai/navigator/pkg/store"
)

func echo(key string, args ...any) string {
	if len(args) == 0 {
		return key
	}
	return fmt.Sprintf("%s(%v)", key, args[0])
}

func detailsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	var verrs *Errors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected *Errors, got %v", err)
	}
	return verrs.Details(echo)
}

func TestCategoryRules(t *testing.T) {
	v := New()

	ok := store.CreateCategoryInput{Name: "AI写作工具", Slug: "ai-writing"}
	if err := v.Struct(ok); err != nil {
		t.Fatalf("expected valid category, got %v", err)
	}

	neg := -1
	bad := store.CreateCategoryInput{
		Name:        "",
		Slug:        "AI Writing",
		Description: strings.Repeat("x", 201),
		Sort:        &neg,
	}
	details := detailsOf(t, v.Struct(bad))

	expected := map[string]string{
		"name":        "validation.required",
		"slug":        "validation.slug",
		"description": "validation.max(200)",
		"sort":        "validation.min(0)",
	}
	for field, msg := range expected {
		if details[field] != msg {
			t.Errorf("field %s: expected %q, got %q", field, msg, details[field])
		}
	}
}

func TestToolRules(t *testing.T) {
	v := New()

	rating := 5.5
	bad := store.CreateToolInput{
		Name:        "Tool",
		Description: "desc",
		URL:         "ftp://example.com",
		CategoryID:  1,
		Rating:      &rating,
		Tags:        make([]string, 11),
	}
	details := detailsOf(t, v.Struct(bad))

	if details["url"] != "validation.httpurl" {
		t.Errorf("expected url error, got %q", details["url"])
	}
	if details["rating"] != "validation.max(5)" {
		t.Errorf("expected rating error, got %q", details["rating"])
	}
	if details["tags"] != "validation.max(10)" {
		t.Errorf("expected tags error, got %q", details["tags"])
	}
	if _, ok := details["categoryId"]; ok {
		t.Error("categoryId is set and must pass")
	}

	missing := store.CreateToolInput{Name: "Tool", Description: "desc", URL: "https://x.ai"}
	details = detailsOf(t, v.Struct(missing))
	if details["categoryId"] != "validation.required" {
		t.Errorf("expected categoryId required, got %q", details["categoryId"])
	}
}

func TestPartialUpdateSkipsNilFields(t *testing.T) {
	v := New()

	if err := v.Struct(store.UpdateToolInput{ID: 3}); err != nil {
		t.Errorf("empty update must pass, got %v", err)
	}

	empty := ""
	details := detailsOf(t, v.Struct(store.UpdateToolInput{Name: &empty}))
	if details["name"] != "validation.min(1)" {
		t.Errorf("expected name min error, got %q", details["name"])
	}
}

func TestUserRules(t *testing.T) {
	v := New()

	details := detailsOf(t, v.Struct(store.CreateUserInput{Username: "ab", Email: "nope", Role: "root"}))
	if details["username"] != "validation.min(3)" {
		t.Errorf("unexpected username error %q", details["username"])
	}
	if details["email"] != "validation.email" {
		t.Errorf("unexpected email error %q", details["email"])
	}
	if details["role"] != "validation.oneof(admin, user, contributor)" {
		t.Errorf("unexpected role error %q", details["role"])
	}
}

func TestErrorString(t *testing.T) {
	err := &Errors{Fields: []FieldError{{Field: "name", Tag: "required"}}}
	if err.Error() != "validation failed: name: required" {
		t.Errorf("unexpected error string %q", err.Error())
	}
}
