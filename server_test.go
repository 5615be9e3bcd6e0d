package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"github.com/gin-gonic/gin"
)

func bindBody(t *testing.T, body string, dest interface{}) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/funnels", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	ok := bindJSON(c, dest)
	return w, ok
}

func TestBindJSONMalformedBody(t *testing.T) {
	// a body that is not JSON at all must come back as a plain 400,
	// never a recovered panic
	var input models.NewFunnel
	w, ok := bindBody(t, "{not json", &input)
	if ok {
		t.Fatalf("bind must fail for a malformed body")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400; got %d", w.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp["code"] != utils.ErrCodeValidation {
		t.Fatalf("expected %s; got %v", utils.ErrCodeValidation, resp["code"])
	}
}

func TestBindJSONTypeMismatch(t *testing.T) {
	var input models.NewFunnel
	w, ok := bindBody(t, `{"name": 5}`, &input)
	if ok {
		t.Fatalf("bind must fail for a type mismatch")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400; got %d", w.Code)
	}
}

func TestBindJSONMissingRequiredFields(t *testing.T) {
	var input models.NewFunnel
	w, ok := bindBody(t, `{}`, &input)
	if ok {
		t.Fatalf("bind must fail when required fields are missing")
	}
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400; got %d", w.Code)
	}
	var resp struct {
		Code   string            `json:"code"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if resp.Fields["Name"] != "required" {
		t.Fatalf("expected Name→required in fields; got %v", resp.Fields)
	}
}
