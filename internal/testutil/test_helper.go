package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dakael7/gravitylabs/internal/middleware"
	"github.com/dakael7/gravitylabs/internal/models"
	"github.com/gofiber/fiber/v2"
)

const TestSecret = "test-secret-key-for-testing-only"

// TestHelper provides utility functions for tests
type TestHelper struct {
	t *testing.T
}

func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// Token signs an access token for the actor with TestSecret.
func (h *TestHelper) Token(id string, role models.Role, name string) string {
	h.t.Helper()
	tok, err := middleware.IssueToken(TestSecret, middleware.Actor{ID: id, Role: role, Name: name}, time.Hour)
	if err != nil {
		h.t.Fatalf("issue token: %v", err)
	}
	return tok
}

// CreateTestMessage creates a test message with default values
func (h *TestHelper) CreateTestMessage(id uint, key string, kind models.SenderKind, body string) *models.Message {
	if key == "" {
		key = "customer@example.com"
	}
	if kind == "" {
		kind = models.SenderCustomer
	}
	if body == "" {
		body = "Test message"
	}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second)
	return &models.Message{
		ID:              id,
		CreatedAt:       now,
		UpdatedAt:       now,
		ConversationKey: key,
		SenderKind:      kind,
		SenderName:      "Test " + string(kind),
		Body:            body,
	}
}

// Response is a decoded JSON reply.
type Response struct {
	Status int
	Body   []byte
}

func (r Response) Decode(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		t.Fatalf("decode %s: %v", r.Body, err)
	}
}

// Do sends a request through app. body is JSON-encoded unless it is nil.
func (h *TestHelper) Do(app *fiber.App, method, path, token string, body interface{}) Response {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return Response{Status: resp.StatusCode, Body: data}
}

// AssertError checks if an error occurred when it should (or shouldn't)
func (h *TestHelper) AssertError(err error, shouldErr bool, testName string) {
	if (err != nil) != shouldErr {
		if shouldErr {
			h.t.Errorf("%s: expected error but got nil", testName)
		} else {
			h.t.Errorf("%s: unexpected error: %v", testName, err)
		}
	}
}

// AssertEqual checks if two values are equal
func (h *TestHelper) AssertEqual(got, want interface{}, testName string) {
	if got != want {
		h.t.Errorf("%s: got %v, want %v", testName, got, want)
	}
}

// AssertStatus checks an HTTP status code.
func (h *TestHelper) AssertStatus(r Response, want int, testName string) {
	if r.Status != want {
		h.t.Errorf("%s: status %d, want %d (body %s)", testName, r.Status, want, r.Body)
	}
}
