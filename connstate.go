package main

// Estado de sessão do fluxo de conexão WhatsApp. Cada sessão de
// onboarding (uma "tela" do front) possui exatamente um ConnectState,
// mutado apenas via ações despachadas no reducer abaixo.

import (
	"errors"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

// LocalStatus é o status derivado da instância, sempre um destes quatro.
type LocalStatus string

const (
	StatusDisconnected LocalStatus = "disconnected"
	StatusConnecting   LocalStatus = "connecting"
	StatusConnected    LocalStatus = "connected"
	StatusQRRequired   LocalStatus = "qr_required"
)

// CampaignAction marca a mutação em andamento de uma campanha (spinner
// por linha no front, sem fila de tarefas).
type CampaignAction struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// ReassignIntent guarda a intenção de reatribuição pendente de confirmação.
type ReassignIntent struct {
	CampaignID string `json:"campaignId"`
	InstanceID string `json:"instanceId"`
}

// ConnectState é o registro de sessão da tela de conexão.
type ConnectState struct {
	ShowAllInstances      bool            `json:"showAllInstances"`
	QrPanelOpen           bool            `json:"qrPanelOpen"`
	IsQrDialogOpen        bool            `json:"isQrDialogOpen"`
	PairingPhoneInput     string          `json:"pairingPhoneInput"`
	PairingPhoneError     string          `json:"pairingPhoneError"`
	RequestingPairingCode bool            `json:"requestingPairingCode"`
	ErrorState            *ErrorCopy      `json:"errorState"`
	Campaign              *Campaign       `json:"campaign"`
	Campaigns             []Campaign      `json:"campaigns"`
	CampaignsLoading      bool            `json:"campaignsLoading"`
	CampaignError         string          `json:"campaignError"`
	CampaignAction        *CampaignAction `json:"campaignAction"`
	InstancePendingDelete string          `json:"instancePendingDelete"`
	IsCreateInstanceOpen  bool            `json:"isCreateInstanceOpen"`
	IsCreateCampaignOpen  bool            `json:"isCreateCampaignOpen"`
	ExpandedInstanceID    string          `json:"expandedInstanceId"`
	PendingReassign       string          `json:"pendingReassign"`
	ReassignIntent        *ReassignIntent `json:"reassignIntent"`
	PersistentWarning     string          `json:"persistentWarning"`
}

// Action é uma mensagem de união discriminada: cada ação atualiza um
// único campo, é atômica e total (definida para qualquer estado).
type Action interface {
	apply(s ConnectState) (ConnectState, bool)
}

// Apply executa a ação sobre o estado. Contrato de no-op referencial:
// se o valor pedido já é o corrente, retorna o MESMO ponteiro; caso
// contrário retorna um novo objeto com apenas aquele campo alterado.
func Apply(s *ConnectState, a Action) *ConnectState {
	next, changed := a.apply(*s)
	if !changed {
		return s
	}
	return &next
}

type SetShowAllInstances struct{ Value bool }

func (a SetShowAllInstances) apply(s ConnectState) (ConnectState, bool) {
	if s.ShowAllInstances == a.Value {
		return s, false
	}
	s.ShowAllInstances = a.Value
	return s, true
}

type SetQrPanelOpen struct{ Value bool }

func (a SetQrPanelOpen) apply(s ConnectState) (ConnectState, bool) {
	if s.QrPanelOpen == a.Value {
		return s, false
	}
	s.QrPanelOpen = a.Value
	return s, true
}

type SetQrDialogOpen struct{ Value bool }

func (a SetQrDialogOpen) apply(s ConnectState) (ConnectState, bool) {
	if s.IsQrDialogOpen == a.Value {
		return s, false
	}
	s.IsQrDialogOpen = a.Value
	return s, true
}

type SetPairingPhoneInput struct{ Value string }

func (a SetPairingPhoneInput) apply(s ConnectState) (ConnectState, bool) {
	if s.PairingPhoneInput == a.Value {
		return s, false
	}
	s.PairingPhoneInput = a.Value
	return s, true
}

type SetPairingPhoneError struct{ Value string }

func (a SetPairingPhoneError) apply(s ConnectState) (ConnectState, bool) {
	if s.PairingPhoneError == a.Value {
		return s, false
	}
	s.PairingPhoneError = a.Value
	return s, true
}

type SetRequestingPairingCode struct{ Value bool }

func (a SetRequestingPairingCode) apply(s ConnectState) (ConnectState, bool) {
	if s.RequestingPairingCode == a.Value {
		return s, false
	}
	s.RequestingPairingCode = a.Value
	return s, true
}

type SetErrorState struct{ Value *ErrorCopy }

func (a SetErrorState) apply(s ConnectState) (ConnectState, bool) {
	if s.ErrorState == a.Value {
		return s, false
	}
	if s.ErrorState != nil && a.Value != nil && *s.ErrorState == *a.Value {
		return s, false
	}
	s.ErrorState = a.Value
	return s, true
}

type SetCampaign struct{ Value *Campaign }

func (a SetCampaign) apply(s ConnectState) (ConnectState, bool) {
	if s.Campaign == a.Value {
		return s, false
	}
	if s.Campaign != nil && a.Value != nil && s.Campaign.ID == a.Value.ID {
		// mesma campanha selecionada: troca o ponteiro só se o conteúdo mudou
		if s.Campaign.Status == a.Value.Status && s.Campaign.InstanceID == a.Value.InstanceID {
			return s, false
		}
	}
	s.Campaign = a.Value
	return s, true
}

type SetCampaigns struct{ Value []Campaign }

func (a SetCampaigns) apply(s ConnectState) (ConnectState, bool) {
	if sameCampaignList(s.Campaigns, a.Value) {
		return s, false
	}
	s.Campaigns = a.Value
	return s, true
}

// sameCampaignList compara pelo que a tela enxerga: id, status,
// instância e updated_at de cada linha, na mesma ordem.
func sameCampaignList(a, b []Campaign) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID ||
			a[i].Status != b[i].Status ||
			a[i].InstanceID != b[i].InstanceID ||
			!a[i].UpdatedAt.Equal(b[i].UpdatedAt) {
			return false
		}
	}
	return true
}

type SetCampaignsLoading struct{ Value bool }

func (a SetCampaignsLoading) apply(s ConnectState) (ConnectState, bool) {
	if s.CampaignsLoading == a.Value {
		return s, false
	}
	s.CampaignsLoading = a.Value
	return s, true
}

type SetCampaignError struct{ Value string }

func (a SetCampaignError) apply(s ConnectState) (ConnectState, bool) {
	if s.CampaignError == a.Value {
		return s, false
	}
	s.CampaignError = a.Value
	return s, true
}

type SetCampaignAction struct{ Value *CampaignAction }

func (a SetCampaignAction) apply(s ConnectState) (ConnectState, bool) {
	if s.CampaignAction == a.Value {
		return s, false
	}
	if s.CampaignAction != nil && a.Value != nil && *s.CampaignAction == *a.Value {
		return s, false
	}
	s.CampaignAction = a.Value
	return s, true
}

type SetInstancePendingDelete struct{ Value string }

func (a SetInstancePendingDelete) apply(s ConnectState) (ConnectState, bool) {
	if s.InstancePendingDelete == a.Value {
		return s, false
	}
	s.InstancePendingDelete = a.Value
	return s, true
}

type SetCreateInstanceOpen struct{ Value bool }

func (a SetCreateInstanceOpen) apply(s ConnectState) (ConnectState, bool) {
	if s.IsCreateInstanceOpen == a.Value {
		return s, false
	}
	s.IsCreateInstanceOpen = a.Value
	return s, true
}

type SetCreateCampaignOpen struct{ Value bool }

func (a SetCreateCampaignOpen) apply(s ConnectState) (ConnectState, bool) {
	if s.IsCreateCampaignOpen == a.Value {
		return s, false
	}
	s.IsCreateCampaignOpen = a.Value
	return s, true
}

type SetExpandedInstanceID struct{ Value string }

func (a SetExpandedInstanceID) apply(s ConnectState) (ConnectState, bool) {
	if s.ExpandedInstanceID == a.Value {
		return s, false
	}
	s.ExpandedInstanceID = a.Value
	return s, true
}

type SetPendingReassign struct{ Value string }

func (a SetPendingReassign) apply(s ConnectState) (ConnectState, bool) {
	if s.PendingReassign == a.Value {
		return s, false
	}
	s.PendingReassign = a.Value
	return s, true
}

type SetReassignIntent struct{ Value *ReassignIntent }

func (a SetReassignIntent) apply(s ConnectState) (ConnectState, bool) {
	if s.ReassignIntent == a.Value {
		return s, false
	}
	if s.ReassignIntent != nil && a.Value != nil && *s.ReassignIntent == *a.Value {
		return s, false
	}
	s.ReassignIntent = a.Value
	return s, true
}

type SetPersistentWarning struct{ Value string }

func (a SetPersistentWarning) apply(s ConnectState) (ConnectState, bool) {
	if s.PersistentWarning == a.Value {
		return s, false
	}
	s.PersistentWarning = a.Value
	return s, true
}

// ReconcileStatus aplica a invariante: painel de QR é forçado fechado
// quando a instância fica conectada.
func ReconcileStatus(s *ConnectState, status LocalStatus) *ConnectState {
	if status == StatusConnected {
		s = Apply(s, SetQrPanelOpen{Value: false})
		s = Apply(s, SetQrDialogOpen{Value: false})
	}
	return s
}

// ================================
// Armazenamento de sessões
// ================================

var errSessionNotFound = errors.New("session not found")

// sessionStore guarda um ConnectState por sessão de onboarding, com TTL
// (o análogo server-side do unmount da tela).
type sessionStore struct {
	c *cache.Cache
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{c: cache.New(ttl, ttl/2)}
}

func (st *sessionStore) Create() (string, *ConnectState) {
	id := uuid.NewString()
	s := &ConnectState{}
	st.c.Set(id, s, cache.DefaultExpiration)
	return id, s
}

func (st *sessionStore) Get(id string) (*ConnectState, error) {
	v, ok := st.c.Get(id)
	if !ok {
		return nil, errSessionNotFound
	}
	return v.(*ConnectState), nil
}

// Dispatch aplica a ação e persiste o resultado; devolve o estado e se
// houve mudança (false quando o reducer fez no-op referencial).
func (st *sessionStore) Dispatch(id string, a Action) (*ConnectState, bool, error) {
	cur, err := st.Get(id)
	if err != nil {
		return nil, false, err
	}
	next := Apply(cur, a)
	if next == cur {
		return cur, false, nil
	}
	st.c.Set(id, next, cache.DefaultExpiration)
	return next, true, nil
}

// Set substitui o estado da sessão (usado pelos fluxos que aplicam
// mais de uma ação de uma vez).
func (st *sessionStore) Set(id string, s *ConnectState) {
	st.c.Set(id, s, cache.DefaultExpiration)
}

func (st *sessionStore) Drop(id string) { st.c.Delete(id) }
