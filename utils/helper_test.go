package utils_test

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/go-playground/validator/v10"
)

func TestTruncatePreview(t *testing.T) {
	short := "called the buyer, waiting on documents"
	if got := utils.TruncatePreview(short, 80); got != short {
		t.Fatalf("short text must pass through unchanged; got %q", got)
	}

	long := strings.Repeat("a", 200)
	got := utils.TruncatePreview(long, 80)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated preview should end with ellipsis; got %q", got)
	}
	if utf8.RuneCountInString(got) != 83 {
		t.Fatalf("expected 80 runes + ellipsis; got %d runes", utf8.RuneCountInString(got))
	}

	// multi-byte text must not be cut mid-character
	burmese := strings.Repeat("မြန်မာ", 40)
	got = utils.TruncatePreview(burmese, 80)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation produced invalid UTF-8")
	}
	if utf8.RuneCountInString(got) != 83 {
		t.Fatalf("expected 80 runes + ellipsis; got %d runes", utf8.RuneCountInString(got))
	}
}

func TestParseDecimal(t *testing.T) {
	dec, err := utils.ParseDecimal(" 1500000.25 ")
	if err != nil {
		t.Fatalf("ParseDecimal: %v", err)
	}
	if dec.String() != "1500000.25" {
		t.Fatalf("expected 1500000.25; got %s", dec.String())
	}

	if _, err := utils.ParseDecimal(""); err == nil {
		t.Fatalf("expected error for empty string")
	}
	if _, err := utils.ParseDecimal("abc"); err == nil {
		t.Fatalf("expected error for non-numeric string")
	}
}

func TestIsValidEmail(t *testing.T) {
	if !utils.IsValidEmail("owner@agency.com") {
		t.Fatalf("expected valid email")
	}
	if utils.IsValidEmail("not-an-email") {
		t.Fatalf("expected invalid email")
	}
}

func TestProcessValidationErrors(t *testing.T) {
	// a malformed body produces a *json.SyntaxError, not
	// validator.ValidationErrors; the helper must not panic on it
	var dest struct {
		Name string `json:"name"`
	}
	err := json.Unmarshal([]byte("{not json"), &dest)
	if err == nil {
		t.Fatalf("expected a syntax error")
	}
	if fields := utils.ProcessValidationErrors(err); fields != nil {
		t.Fatalf("expected nil map for a syntax error; got %v", fields)
	}

	// a type mismatch on valid JSON is also not a validation error
	err = json.Unmarshal([]byte(`{"name": 5}`), &dest)
	if err == nil {
		t.Fatalf("expected a type error")
	}
	if fields := utils.ProcessValidationErrors(err); fields != nil {
		t.Fatalf("expected nil map for a type error; got %v", fields)
	}

	// real validator errors still map field → tag
	type loginInput struct {
		Email string `validate:"required,email"`
	}
	err = validator.New().Struct(loginInput{Email: "nope"})
	fields := utils.ProcessValidationErrors(err)
	if fields["Email"] != "email" {
		t.Fatalf("expected Email→email; got %v", fields)
	}
}

func TestUniqueSlice(t *testing.T) {
	got := utils.UniqueSlice([]int{3, 1, 3, 2, 1})
	if len(got) != 3 {
		t.Fatalf("expected 3 unique values; got %v", got)
	}
	if got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("first occurrence order must be preserved; got %v", got)
	}
}
