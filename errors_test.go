package main

import (
	"errors"
	"testing"
)

func TestResolveErrorCopyKnownCode(t *testing.T) {
	c := resolveErrorCopy("pairing_failed", "ignorado")
	if c.Code != "PAIRING_FAILED" || c.Title == "" || c.Message == "" {
		t.Fatalf("código conhecido mal resolvido: %+v", c)
	}
}

func TestResolveErrorCopyUnknownKeepsMessage(t *testing.T) {
	c := resolveErrorCopy("WEIRD_CODE", "mensagem do backend")
	if c.Code != "WEIRD_CODE" {
		t.Fatalf("código deveria ser preservado: %+v", c)
	}
	if c.Title != "Algo deu errado" {
		t.Fatalf("título genérico esperado: %+v", c)
	}
	if c.Message != "mensagem do backend" {
		t.Fatalf("mensagem do backend deveria sobreviver: %+v", c)
	}
}

func TestResolveErrorCopyEmpty(t *testing.T) {
	c := resolveErrorCopy("", "")
	if c.Code != "UNKNOWN" || c.Title == "" || c.Message == "" {
		t.Fatalf("fallback vazio: %+v", c)
	}
}

func TestCopyFromError(t *testing.T) {
	err := &apiError{Status: 502, Code: "BROKER_UNAVAILABLE", Message: "down"}
	c := copyFromError(err)
	if c.Code != "BROKER_UNAVAILABLE" || c.Title != "Serviço indisponível" {
		t.Fatalf("apiError mal resolvido: %+v", c)
	}

	c = copyFromError(errors.New("qualquer coisa"))
	if c.Code != "UNKNOWN" {
		t.Fatalf("erro genérico deveria cair no fallback: %+v", c)
	}
}
