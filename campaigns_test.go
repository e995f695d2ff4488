package main

import (
	"errors"
	"testing"
)

func TestValidateReassignSameInstance(t *testing.T) {
	current := Campaign{ID: "c1", InstanceID: "inst-1"}

	err := validateReassign(current, "inst-1")
	if err == nil {
		t.Fatalf("reatribuir para a mesma instância deveria falhar antes de qualquer mutação")
	}
	var ae *apiError
	if !errors.As(err, &ae) || ae.Code != "SAME_INSTANCE" {
		t.Fatalf("esperava SAME_INSTANCE, veio %v", err)
	}

	if err := validateReassign(current, "inst-2"); err != nil {
		t.Fatalf("instância diferente deveria passar: %v", err)
	}
}

func TestValidateReassignEmptyTarget(t *testing.T) {
	current := Campaign{ID: "c1", InstanceID: "inst-1"}
	if err := validateReassign(current, ""); err == nil {
		t.Fatalf("destino vazio deveria falhar")
	}
	if err := validateReassign(current, "   "); err == nil {
		t.Fatalf("destino em branco deveria falhar")
	}
}
