package main

import (
	"encoding/json"
	"testing"
)

func TestDecodeActionVariants(t *testing.T) {
	a, err := decodeAction(actionEnvelope{Type: "set-qr-panel-open", Value: json.RawMessage(`true`)})
	if err != nil {
		t.Fatalf("decode bool: %v", err)
	}
	if v, ok := a.(SetQrPanelOpen); !ok || !v.Value {
		t.Fatalf("variante errada: %#v", a)
	}

	a, err = decodeAction(actionEnvelope{Type: "set-pairing-phone-input", Value: json.RawMessage(`"+5511999990000"`)})
	if err != nil {
		t.Fatalf("decode string: %v", err)
	}
	if v, ok := a.(SetPairingPhoneInput); !ok || v.Value != "+5511999990000" {
		t.Fatalf("variante errada: %#v", a)
	}
}

func TestDecodeActionNullPointers(t *testing.T) {
	a, err := decodeAction(actionEnvelope{Type: "set-error-state", Value: json.RawMessage(`null`)})
	if err != nil {
		t.Fatalf("null deveria limpar: %v", err)
	}
	if v := a.(SetErrorState); v.Value != nil {
		t.Fatalf("esperava nil, veio %#v", v.Value)
	}

	a, err = decodeAction(actionEnvelope{Type: "set-reassign-intent", Value: json.RawMessage(`{"campaignId":"c1","instanceId":"i2"}`)})
	if err != nil {
		t.Fatalf("decode intent: %v", err)
	}
	v := a.(SetReassignIntent)
	if v.Value == nil || v.Value.CampaignID != "c1" || v.Value.InstanceID != "i2" {
		t.Fatalf("intent errado: %#v", v.Value)
	}
}

func TestDecodeActionUnknownType(t *testing.T) {
	if _, err := decodeAction(actionEnvelope{Type: "abrir-portal"}); err == nil {
		t.Fatal("tipo desconhecido deveria falhar")
	}
}
