package main

// Cliente HTTP do broker de WhatsApp (uazapi ou compatível). O broker é
// um colaborador opaco: aqui só montamos as chamadas e devolvemos o
// payload frouxo para a camada de normalização.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type brokerClient struct {
	BaseURL    string
	APIKey     string
	AuthHeader string // nome do header, ex.: "Authorization" ou "X-API-KEY"
	AuthValue  string // valor; pode conter %s para interpolar a APIKey
	HTTP       *http.Client
}

func newBrokerClient() *brokerClient {
	base := strings.TrimRight(os.Getenv("UAZAPI_BASE"), "/")
	apiKey := os.Getenv("UAZAPI_TOKEN")
	hName := os.Getenv("UAZAPI_AUTH_HEADER")
	if hName == "" {
		hName = "Authorization"
	}
	hVal := os.Getenv("UAZAPI_AUTH_VALUE")
	if hVal == "" {
		hVal = "Bearer %s"
	}
	return &brokerClient{
		BaseURL:    base,
		APIKey:     apiKey,
		AuthHeader: hName,
		AuthValue:  hVal,
		HTTP:       &http.Client{Timeout: 35 * time.Second},
	}
}

func (c *brokerClient) configured() bool { return c.BaseURL != "" }

// doJSON faz a requisição ao broker; body!=nil é enviado como JSON.
func (c *brokerClient) doJSON(ctx context.Context, method, path string, q url.Values, body any) (*http.Response, error) {
	if !c.configured() {
		return nil, errors.New("broker not configured (defina UAZAPI_BASE)")
	}
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AuthHeader != "" {
		val := c.AuthValue
		if strings.Contains(val, "%s") {
			val = fmt.Sprintf(val, c.APIKey)
		}
		if val == "" {
			val = c.APIKey
		}
		if val != "" {
			req.Header.Set(c.AuthHeader, val)
		}
	}
	return c.HTTP.Do(req)
}

// call executa e decodifica a resposta num mapa frouxo, convertendo
// status >= 400 em *apiError com o {code,message} reportado.
func (c *brokerClient) call(ctx context.Context, method, path string, q url.Values, body any) (map[string]any, error) {
	resp, err := c.doJSON(ctx, method, path, q, body)
	if err != nil {
		return nil, &apiError{Status: http.StatusBadGateway, Code: "BROKER_UNAVAILABLE", Message: err.Error()}
	}
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 400 {
		code := pickStr(out, "code", "errorCode", "error_code")
		msg := pickStr(out, "message", "error", "detail")
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &apiError{Status: resp.StatusCode, Code: code, Message: msg}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// CreateInstance cria a instância no broker. Sem UAZAPI_BASE, devolve
// um mock funcional para desenvolvimento local.
func (c *brokerClient) CreateInstance(ctx context.Context, name string) (map[string]any, error) {
	if !c.configured() {
		inst := strings.ToLower(strings.ReplaceAll(name, " ", "-")) + "-" + randToken(6)
		return map[string]any{
			"instanceId": inst,
			"token":      randToken(32),
			"status":     "disconnected",
			"mock":       true,
		}, nil
	}
	return c.call(ctx, http.MethodPost, "/instances", nil, map[string]any{"name": name})
}

// ConnectInstance dispara o pareamento: com phoneNumber gera código de
// pareamento, com code confirma, sem nada gera QR.
func (c *brokerClient) ConnectInstance(ctx context.Context, instanceID string, opts map[string]any) (map[string]any, error) {
	if !c.configured() {
		out := map[string]any{"status": "connecting", "mock": true}
		if p := stringish(opts["phoneNumber"]); p != "" {
			out["pairingCode"] = strings.ToUpper(randToken(8))
		} else {
			out["qrcode"] = "MOCK_QR_" + instanceID
			out["expiresAt"] = time.Now().Add(45 * time.Second).Format(time.RFC3339)
		}
		return out, nil
	}
	return c.call(ctx, http.MethodPost, "/instances/"+url.PathEscape(instanceID)+"/connect", nil, opts)
}

// InstanceStatus consulta o estado corrente no broker.
func (c *brokerClient) InstanceStatus(ctx context.Context, instanceID, token string) (map[string]any, error) {
	if !c.configured() {
		return map[string]any{"instance": instanceID, "status": "waiting-qr", "qrcode": "MOCK_QR_" + instanceID}, nil
	}
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	return c.call(ctx, http.MethodGet, "/instances/"+url.PathEscape(instanceID)+"/status", q, nil)
}

// InstanceQR busca o payload de QR; tenta /qr e /qrcode (os brokers
// divergem no caminho).
func (c *brokerClient) InstanceQR(ctx context.Context, instanceID, token string) (map[string]any, error) {
	if !c.configured() {
		return map[string]any{"qrcode": "MOCK_QR_" + instanceID, "status": "waiting-qr"}, nil
	}
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	paths := []string{
		"/instances/" + url.PathEscape(instanceID) + "/qr",
		"/instances/" + url.PathEscape(instanceID) + "/qrcode",
	}
	var lastErr error
	for _, p := range paths {
		out, err := c.call(ctx, http.MethodGet, p, q, nil)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// DisconnectInstance encerra a sessão no broker.
func (c *brokerClient) DisconnectInstance(ctx context.Context, instanceID, token string) error {
	if !c.configured() {
		return nil
	}
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	_, err := c.call(ctx, http.MethodPost, "/instances/"+url.PathEscape(instanceID)+"/disconnect", q, nil)
	return err
}

// DeleteInstance remove a instância no broker.
func (c *brokerClient) DeleteInstance(ctx context.Context, instanceID, token string) error {
	if !c.configured() {
		return nil
	}
	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	_, err := c.call(ctx, http.MethodDelete, "/instances/"+url.PathEscape(instanceID), q, nil)
	return err
}

// pickStr extrai a primeira string não vazia dentre as chaves candidatas.
func pickStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch t := v.(type) {
			case string:
				if strings.TrimSpace(t) != "" {
					return t
				}
			case float64:
				return strconv.FormatFloat(t, 'f', -1, 64)
			case json.Number:
				return t.String()
			}
		}
	}
	return ""
}

func randToken(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
