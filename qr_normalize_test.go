package main

import (
	"strings"
	"testing"
	"time"
)

func longBase64() string {
	return strings.Repeat("iVBORw0KGgoAAAANSUhEUg", 10) // 220 chars, alfabeto base64
}

func TestNormalizeQrBase64Wrapped(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{
			"qr":        longBase64(),
			"expiresAt": "2024-01-01T00:00:00Z",
		},
	}
	qr := normalizeQrPayload(payload)
	if qr.NeedsGeneration {
		t.Fatalf("base64 longo não deveria exigir geração")
	}
	if !strings.HasPrefix(qr.Immediate, "data:image/png;base64,") {
		t.Fatalf("Immediate = %q", qr.Immediate)
	}
	if qr.ExpiresAt == nil {
		t.Fatalf("expiresAt não foi extraído")
	}
	want, _ := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	if !qr.ExpiresAt.Equal(want) {
		t.Fatalf("expiresAt = %v", qr.ExpiresAt)
	}
}

func TestNormalizeQrBaileys(t *testing.T) {
	qr := normalizeQrPayload(map[string]any{"qrCode": "BAYLEYS:xyz"})
	if !qr.NeedsGeneration {
		t.Fatalf("código cru deveria exigir geração")
	}
	if !qr.IsBaileys {
		t.Fatalf("prefixo BAYLEYS deveria marcar isBaileys")
	}

	qr = normalizeQrPayload(map[string]any{"code": "2@abc,def,ghi,jkl"})
	if !qr.IsBaileys {
		t.Fatalf("código multi-segmento com @ deveria marcar isBaileys")
	}
}

func TestNormalizeQrDirectSources(t *testing.T) {
	qr := normalizeQrPayload(map[string]any{"image": "data:image/png;base64,AAAA"})
	if qr.NeedsGeneration || qr.Immediate != "data:image/png;base64,AAAA" {
		t.Fatalf("data URI deveria ser usado direto: %+v", qr)
	}

	qr = normalizeQrPayload(map[string]any{"value": "https://cdn.example.com/qr.png"})
	if qr.NeedsGeneration || qr.Immediate != "https://cdn.example.com/qr.png" {
		t.Fatalf("URL deveria ser usada direta: %+v", qr)
	}
}

func TestNormalizeQrAbsenceIsNotError(t *testing.T) {
	qr := normalizeQrPayload(map[string]any{"data": map[string]any{"status": "connecting"}})
	if qr.Code != "" || qr.NeedsGeneration {
		t.Fatalf("payload sem string deveria dar code vazio sem geração: %+v", qr)
	}

	qr = normalizeQrPayload(nil)
	if qr.Code != "" || qr.NeedsGeneration {
		t.Fatalf("payload nulo: %+v", qr)
	}
}

func TestNormalizeQrDeepNesting(t *testing.T) {
	payload := map[string]any{
		"response": map[string]any{
			"result": map[string]any{
				"qrData": map[string]any{
					"qr_code": "RAW-PAIR-CODE-123",
				},
			},
		},
	}
	qr := normalizeQrPayload(payload)
	if qr.Code != "RAW-PAIR-CODE-123" || !qr.NeedsGeneration {
		t.Fatalf("aninhamento profundo: %+v", qr)
	}
}

func TestNormalizeQrMergesPartialMatches(t *testing.T) {
	// código num nível, expiração noutro: o merge preenche os vazios
	payload := map[string]any{
		"qr": "RAW-CODE",
		"data": map[string]any{
			"expiresAt": float64(1700000060),
		},
	}
	qr := normalizeQrPayload(payload)
	if qr.Code != "RAW-CODE" {
		t.Fatalf("Code = %q", qr.Code)
	}
	if qr.ExpiresAt == nil || qr.ExpiresAt.Unix() != 1700000060 {
		t.Fatalf("ExpiresAt = %v", qr.ExpiresAt)
	}
}

func TestNormalizeQrFirstCandidateWins(t *testing.T) {
	payload := map[string]any{
		"qr":     "FIRST",
		"qrCode": "SECOND",
	}
	qr := normalizeQrPayload(payload)
	if qr.Code != "FIRST" {
		t.Fatalf("primeiro candidato deveria vencer, veio %q", qr.Code)
	}
}

func TestNormalizeQrCycleGuard(t *testing.T) {
	a := map[string]any{}
	b := map[string]any{"data": a}
	a["data"] = b
	a["qr"] = "CODE-IN-CYCLE"

	qr := normalizeQrPayload(a) // não pode travar
	if qr.Code != "CODE-IN-CYCLE" {
		t.Fatalf("Code = %q", qr.Code)
	}
}

func TestParseExpiryFormats(t *testing.T) {
	if ts := parseExpiry("2024-06-01T10:00:00Z"); ts == nil {
		t.Fatalf("RFC3339 deveria ser aceito")
	}
	if ts := parseExpiry(float64(1700000000000)); ts == nil || ts.UnixMilli() != 1700000000000 {
		t.Fatalf("epoch ms: %v", ts)
	}
	if ts := parseExpiry("1700000000"); ts == nil || ts.Unix() != 1700000000 {
		t.Fatalf("epoch string: %v", ts)
	}
	if ts := parseExpiry("nunca"); ts != nil {
		t.Fatalf("lixo deveria dar nil, veio %v", ts)
	}
	if ts := parseExpiry(nil); ts != nil {
		t.Fatalf("nil deveria dar nil")
	}
}

func TestRenderQrImageGenerates(t *testing.T) {
	qr := NormalizedQr{Code: "PAIR-123", NeedsGeneration: true}
	img, err := renderQrImage(qr)
	if err != nil {
		t.Fatalf("renderQrImage: %v", err)
	}
	if !strings.HasPrefix(img, "data:image/png;base64,") {
		t.Fatalf("imagem gerada deveria ser data URI png, veio %q", img[:min(len(img), 40)])
	}

	direct := NormalizedQr{Immediate: "https://x/qr.png"}
	img, err = renderQrImage(direct)
	if err != nil || img != "https://x/qr.png" {
		t.Fatalf("immediate deveria passar direto: %q %v", img, err)
	}

	empty := NormalizedQr{}
	img, err = renderQrImage(empty)
	if err != nil || img != "" {
		t.Fatalf("sem código deveria dar vazio: %q %v", img, err)
	}
}
