package main

// Sessões de onboarding: o front cria uma sessão ao montar a tela de
// conexão e despacha ações de união discriminada para mutar o estado.
// O TTL do armazenamento faz o papel do unmount.

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (app *App) mountSessions(r chi.Router) {
	r.Route("/ui/sessions", func(r chi.Router) {
		r.Post("/", app.createSession)
		r.Get("/{id}", app.getSession)
		r.Post("/{id}/actions", app.dispatchSessionAction)
		r.Delete("/{id}", app.dropSession)
	})
}

func (app *App) createSession(w http.ResponseWriter, r *http.Request) {
	id, s := app.Sessions.Create()
	// a sessão nasce com o toggle "mostrar todas" persistido do tenant
	if orgID, flowID, err := app.tenantRequest(r); err == nil {
		if app.showAllPreference(r.Context(), orgID, flowID) {
			s, _, _ = app.Sessions.Dispatch(id, SetShowAllInstances{Value: true})
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
		"sessionId": id,
		"state":     s,
	}})
}

func (app *App) getSession(w http.ResponseWriter, r *http.Request) {
	s, err := app.Sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Sessão expirada ou inexistente.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s})
}

func (app *App) dropSession(w http.ResponseWriter, r *http.Request) {
	app.Sessions.Drop(chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"deleted": true}})
}

// actionEnvelope é a forma de fio de uma ação: {"type":..., "value":...}
type actionEnvelope struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// POST /api/ui/sessions/{id}/actions
func (app *App) dispatchSessionAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var env actionEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeFieldError(w, "body", "JSON inválido.")
		return
	}
	action, err := decodeAction(env)
	if err != nil {
		writeFieldError(w, "type", err.Error())
		return
	}
	s, changed, err := app.Sessions.Dispatch(id, action)
	if err != nil {
		writeAPIError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Sessão expirada ou inexistente.")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"state":   s,
		"changed": changed,
	}})
}

// decodeAction converte a forma de fio na variante tipada. Tipo
// desconhecido é rejeitado na borda; o reducer em si é total.
func decodeAction(env actionEnvelope) (Action, error) {
	boolVal := func() (bool, error) {
		var v bool
		err := json.Unmarshal(env.Value, &v)
		return v, err
	}
	strVal := func() (string, error) {
		var v string
		err := json.Unmarshal(env.Value, &v)
		return v, err
	}

	switch env.Type {
	case "set-show-all-instances":
		v, err := boolVal()
		return SetShowAllInstances{Value: v}, err
	case "set-qr-panel-open":
		v, err := boolVal()
		return SetQrPanelOpen{Value: v}, err
	case "set-qr-dialog-open":
		v, err := boolVal()
		return SetQrDialogOpen{Value: v}, err
	case "set-pairing-phone-input":
		v, err := strVal()
		return SetPairingPhoneInput{Value: v}, err
	case "set-pairing-phone-error":
		v, err := strVal()
		return SetPairingPhoneError{Value: v}, err
	case "set-error-state":
		if string(env.Value) == "null" || len(env.Value) == 0 {
			return SetErrorState{Value: nil}, nil
		}
		var v ErrorCopy
		err := json.Unmarshal(env.Value, &v)
		return SetErrorState{Value: &v}, err
	case "set-campaign":
		if string(env.Value) == "null" || len(env.Value) == 0 {
			return SetCampaign{Value: nil}, nil
		}
		var v Campaign
		err := json.Unmarshal(env.Value, &v)
		return SetCampaign{Value: &v}, err
	case "set-campaigns-loading":
		v, err := boolVal()
		return SetCampaignsLoading{Value: v}, err
	case "set-campaign-error":
		v, err := strVal()
		return SetCampaignError{Value: v}, err
	case "set-instance-pending-delete":
		v, err := strVal()
		return SetInstancePendingDelete{Value: v}, err
	case "set-create-instance-open":
		v, err := boolVal()
		return SetCreateInstanceOpen{Value: v}, err
	case "set-create-campaign-open":
		v, err := boolVal()
		return SetCreateCampaignOpen{Value: v}, err
	case "set-expanded-instance-id":
		v, err := strVal()
		return SetExpandedInstanceID{Value: v}, err
	case "set-pending-reassign":
		v, err := strVal()
		return SetPendingReassign{Value: v}, err
	case "set-reassign-intent":
		if string(env.Value) == "null" || len(env.Value) == 0 {
			return SetReassignIntent{Value: nil}, nil
		}
		var v ReassignIntent
		err := json.Unmarshal(env.Value, &v)
		return SetReassignIntent{Value: &v}, err
	case "set-persistent-warning":
		v, err := strVal()
		return SetPersistentWarning{Value: v}, err
	default:
		return nil, errors.New("ação desconhecida: " + env.Type)
	}
}
