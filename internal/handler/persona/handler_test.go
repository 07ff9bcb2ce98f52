package persona

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/salesbot/internal/model/persona"
	"github.com/zhouzirui/z-tavern/salesbot/internal/service/democonfig"
)

func setupRouter() (*chi.Mux, persona.Store) {
	store := persona.NewMemoryStore()
	handler := New(democonfig.NewResolver(store, 1))

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, store
}

func serve(r http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestGetPersonaNotFound(t *testing.T) {
	r, _ := setupRouter()

	resp := serve(r, http.MethodGet, "/personas/s1", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestPutThenGetPersona(t *testing.T) {
	r, store := setupRouter()
	cfg := persona.Config{
		Niche:              "автосервис",
		CompanyName:        "Мотор",
		PersonaInstruction: "вежливый мастер-приемщик",
		WelcomeMessage:     "Добрый день!",
	}
	payload, _ := json.Marshal(cfg)

	resp := serve(r, http.MethodPut, "/personas/s1", payload)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	stored, err := store.Load(context.Background(), "s1")
	if err != nil || stored == nil || stored.CompanyName != "Мотор" {
		t.Fatalf("persona not stored: %+v, %v", stored, err)
	}

	resp = serve(r, http.MethodGet, "/personas/s1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var got persona.Config
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != cfg {
		t.Fatalf("unexpected persona %+v", got)
	}
}

func TestPutPersonaMissingFields(t *testing.T) {
	r, store := setupRouter()

	resp := serve(r, http.MethodPut, "/personas/s1", []byte(`{"niche":"автосервис"}`))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if !bytes.Contains(resp.Body.Bytes(), []byte("company_name")) {
		t.Fatalf("expected missing field names in %s", resp.Body.String())
	}
	if cfg, _ := store.Load(context.Background(), "s1"); cfg != nil {
		t.Fatalf("incomplete persona must not be stored")
	}
}

func TestDeletePersona(t *testing.T) {
	r, store := setupRouter()
	_ = store.Save(context.Background(), "s1", "s1", persona.Config{
		Niche: "a", CompanyName: "b", PersonaInstruction: "c", WelcomeMessage: "d",
	})

	resp := serve(r, http.MethodDelete, "/personas/s1", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if cfg, _ := store.Load(context.Background(), "s1"); cfg != nil {
		t.Fatalf("persona should be deleted")
	}
}
