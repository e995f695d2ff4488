package main

// Normalização do payload de QR vindo do broker. A uazapi (e os brokers
// compatíveis) devolve o QR em formatos variados: string crua, base64,
// data URI, URL de imagem, aninhado em "data"/"payload"/"result"...
// Aqui o formato é decidido uma única vez, na borda, e o resto do
// código só enxerga NormalizedQr.

import (
	"encoding/base64"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mdp/qrterminal/v3"
	qrcode "github.com/skip2/go-qrcode"
)

// NormalizedQr é o registro canônico de um ciclo de geração de QR.
type NormalizedQr struct {
	Code            string     `json:"code"`            // string crua ("" quando ausente)
	Immediate       string     `json:"immediate"`       // src de imagem pronto para uso
	NeedsGeneration bool       `json:"needsGeneration"` // true => renderizar PNG a partir de Code
	IsBaileys       bool       `json:"isBaileys"`
	ExpiresAt       *time.Time `json:"expiresAt"`
}

// chaves candidatas a conter o código, em ordem de preferência
var qrCodeKeys = []string{"qr", "qrCode", "qr_code", "code", "image", "value"}

// invólucros onde o payload costuma vir aninhado
var qrWrapperKeys = []string{"data", "payload", "result", "response", "qrData"}

// chaves candidatas de expiração
var qrExpiryKeys = []string{"qrExpiresAt", "qr_expires_at", "expiresAt", "expires_at", "expiry", "expiration"}

type qrFields struct {
	code      string
	expiresAt *time.Time
}

// mergeQr combina matches parciais: o primeiro valor encontrado vence,
// campos vazios são preenchidos pelo candidato seguinte.
func mergeQr(dst, src qrFields) qrFields {
	if dst.code == "" {
		dst.code = src.code
	}
	if dst.expiresAt == nil {
		dst.expiresAt = src.expiresAt
	}
	return dst
}

// normalizeQrPayload extrai {code, expiresAt} de um payload arbitrário
// e classifica o código. Ausência de qualquer string utilizável NÃO é
// erro: devolve Code vazio e NeedsGeneration=false (o front mostra o
// ícone de placeholder).
func normalizeQrPayload(v any) NormalizedQr {
	visited := map[uintptr]bool{}
	f := extractQrFields(v, visited, 0)
	return classifyQr(f)
}

// extractQrFields percorre o payload em profundidade, com guarda de
// ciclo via conjunto de ponteiros visitados.
func extractQrFields(v any, visited map[uintptr]bool, depth int) qrFields {
	var out qrFields
	if v == nil || depth > 16 {
		return out
	}
	switch t := v.(type) {
	case string:
		out.code = strings.TrimSpace(t)
		return out
	case map[string]any:
		ptr := reflect.ValueOf(t).Pointer()
		if visited[ptr] {
			return out
		}
		visited[ptr] = true

		for _, k := range qrCodeKeys {
			if raw, ok := t[k]; ok {
				if s := stringish(raw); s != "" {
					out = mergeQr(out, qrFields{code: s})
				} else if m, ok := raw.(map[string]any); ok {
					// algumas versões devolvem {"qrcode": {"base64": "..."}}
					out = mergeQr(out, extractQrFields(m, visited, depth+1))
				}
			}
		}
		for _, k := range qrExpiryKeys {
			if raw, ok := t[k]; ok {
				if ts := parseExpiry(raw); ts != nil {
					out = mergeQr(out, qrFields{expiresAt: ts})
				}
			}
		}
		if out.code != "" && out.expiresAt != nil {
			return out
		}
		for _, k := range qrWrapperKeys {
			if inner, ok := t[k]; ok {
				out = mergeQr(out, extractQrFields(inner, visited, depth+1))
				if out.code != "" && out.expiresAt != nil {
					return out
				}
			}
		}
		// também aceita base64 solto dentro do invólucro
		if out.code == "" {
			if s := stringish(t["base64"]); s != "" {
				out.code = s
			}
		}
		return out
	case []any:
		for _, item := range t {
			out = mergeQr(out, extractQrFields(item, visited, depth+1))
			if out.code != "" && out.expiresAt != nil {
				return out
			}
		}
		return out
	default:
		return out
	}
}

func stringish(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// parseExpiry aceita RFC3339, epoch em segundos ou milissegundos e
// strings numéricas.
func parseExpiry(v any) *time.Time {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return &ts
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return epochToTime(n)
		}
	case float64:
		return epochToTime(int64(t))
	case int64:
		return epochToTime(t)
	}
	return nil
}

func epochToTime(n int64) *time.Time {
	if n <= 0 {
		return nil
	}
	var ts time.Time
	if n > 1e12 { // milissegundos
		ts = time.UnixMilli(n)
	} else {
		ts = time.Unix(n, 0)
	}
	return &ts
}

// classifyQr decide como o código vira imagem:
//   - data URI ou URL http(s): usado direto como src
//   - string longa com cara de base64: embrulhada como PNG
//   - resto: código cru de pareamento, PNG gerado localmente
func classifyQr(f qrFields) NormalizedQr {
	out := NormalizedQr{Code: f.code, ExpiresAt: f.expiresAt}
	if f.code == "" {
		return out
	}
	out.IsBaileys = isBaileysCode(f.code)
	switch {
	case strings.HasPrefix(f.code, "data:image"):
		out.Immediate = f.code
	case strings.HasPrefix(f.code, "http://"), strings.HasPrefix(f.code, "https://"):
		out.Immediate = f.code
	case len(f.code) >= 100 && looksLikeBase64(f.code):
		out.Immediate = "data:image/png;base64," + f.code
	default:
		out.NeedsGeneration = true
	}
	return out
}

// isBaileysCode detecta códigos no formato do Baileys: prefixo
// "BAYLEYS:"/"BAILEYS:" ou múltiplos segmentos separados por vírgula
// contendo "@" (ex.: "2@abc,def,ghi,jkl").
func isBaileysCode(code string) bool {
	upper := strings.ToUpper(code)
	if strings.HasPrefix(upper, "BAYLEYS:") || strings.HasPrefix(upper, "BAILEYS:") {
		return true
	}
	if strings.Contains(code, "@") && len(strings.Split(code, ",")) >= 3 {
		return true
	}
	return false
}

func looksLikeBase64(s string) bool {
	if len(s)%4 != 0 {
		// base64 sem padding também circula por aí; tolera
		if len(s)%4 == 1 {
			return false
		}
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '=' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// renderQrImage devolve o src final da imagem. Gera o PNG localmente
// quando o broker só mandou o código cru.
func renderQrImage(n NormalizedQr) (string, error) {
	if n.Immediate != "" {
		return n.Immediate, nil
	}
	if !n.NeedsGeneration || n.Code == "" {
		return "", nil
	}
	png, err := qrcode.Encode(n.Code, qrcode.Medium, 256)
	if err != nil {
		return "", fmt.Errorf("qr encode: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// maybePrintTerminalQr imprime o QR no terminal em desenvolvimento
// local (WA_QR_TERMINAL=1), útil para parear sem abrir o front.
func maybePrintTerminalQr(code string) {
	if code == "" || os.Getenv("WA_QR_TERMINAL") != "1" {
		return
	}
	qrterminal.GenerateHalfBlock(code, qrterminal.L, os.Stdout)
}
