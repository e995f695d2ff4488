package main

// Classificação de erros na borda: validação vira erro de campo,
// 401 vai para o fallback de autenticação, erro reportado pelo backend
// passa pelo resolvedor de textos abaixo e o resto cai no genérico.

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCopy é o texto amigável exibido no banner do front.
type ErrorCopy struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// apiError carrega o par {code,message} reportado pelo broker/backend.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %s (http %d): %s", e.Code, e.Status, e.Message)
}

// textos conhecidos, indexados pelo código reportado
var errorCopyTable = map[string]ErrorCopy{
	"INSTANCE_NOT_FOUND": {
		Code:    "INSTANCE_NOT_FOUND",
		Title:   "Instância não encontrada",
		Message: "A instância selecionada não existe mais. Atualize a lista e tente novamente.",
	},
	"ALREADY_CONNECTED": {
		Code:    "ALREADY_CONNECTED",
		Title:   "Instância já conectada",
		Message: "Esta instância já está conectada ao WhatsApp.",
	},
	"PAIRING_FAILED": {
		Code:    "PAIRING_FAILED",
		Title:   "Falha no pareamento",
		Message: "Não foi possível gerar o código de pareamento. Verifique o telefone informado.",
	},
	"QR_EXPIRED": {
		Code:    "QR_EXPIRED",
		Title:   "QR code expirado",
		Message: "O QR code expirou. Gere um novo código para continuar.",
	},
	"RATE_LIMITED": {
		Code:    "RATE_LIMITED",
		Title:   "Muitas tentativas",
		Message: "Aguarde alguns instantes antes de tentar novamente.",
	},
	"BROKER_UNAVAILABLE": {
		Code:    "BROKER_UNAVAILABLE",
		Title:   "Serviço indisponível",
		Message: "O serviço de WhatsApp está temporariamente indisponível. Tente novamente.",
	},
	"CAMPAIGN_NOT_FOUND": {
		Code:    "CAMPAIGN_NOT_FOUND",
		Title:   "Campanha não encontrada",
		Message: "A campanha não existe mais. Atualize a lista e tente novamente.",
	},
	"SAME_INSTANCE": {
		Code:    "SAME_INSTANCE",
		Title:   "Reatribuição inválida",
		Message: "A campanha já está atribuída a esta instância.",
	},
}

// resolveErrorCopy mapeia um {code,message} para {code,title,message}.
// Código desconhecido cai no texto genérico, preservando a mensagem
// original quando houver.
func resolveErrorCopy(code, message string) ErrorCopy {
	code = strings.ToUpper(strings.TrimSpace(code))
	if c, ok := errorCopyTable[code]; ok {
		return c
	}
	out := ErrorCopy{
		Code:    code,
		Title:   "Algo deu errado",
		Message: "Não foi possível concluir a operação. Tente novamente.",
	}
	if out.Code == "" {
		out.Code = "UNKNOWN"
	}
	if strings.TrimSpace(message) != "" {
		out.Message = message
	}
	return out
}

// copyFromError reduz qualquer erro a um ErrorCopy exibível.
func copyFromError(err error) ErrorCopy {
	var ae *apiError
	if errors.As(err, &ae) {
		return resolveErrorCopy(ae.Code, ae.Message)
	}
	return resolveErrorCopy("", "")
}

func asAPIError(err error, target **apiError) bool {
	return errors.As(err, target)
}

// writeJSON é o utilitário de resposta padrão da plataforma.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError devolve o envelope de erro padronizado da API.
func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	c := resolveErrorCopy(code, message)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": c})
}

// writeFieldError devolve erro de validação de campo (nunca vira banner).
func writeFieldError(w http.ResponseWriter, field, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnprocessableEntity)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"fieldErrors": map[string]string{field: message},
	})
}
