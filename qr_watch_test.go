package main

import (
	"sync"
	"testing"
	"time"
)

func TestSecondsUntil(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		delta time.Duration
		want  int
	}{
		{10 * time.Second, 10},
		{1500 * time.Millisecond, 2}, // arredonda para cima
		{time.Second, 1},
		{0, 0},
		{-5 * time.Second, 0}, // piso em zero
	}
	for _, tc := range cases {
		if got := secondsUntil(now, now.Add(tc.delta)); got != tc.want {
			t.Errorf("secondsUntil(+%v) = %d, quer %d", tc.delta, got, tc.want)
		}
	}
}

func TestCountdownMonotonicAndExpiresOnce(t *testing.T) {
	w := newQrWatcher()
	w.interval = 10 * time.Millisecond

	var mu sync.Mutex
	var ticks []int
	expired := make(chan struct{}, 4)

	expiresAt := time.Now().Add(60 * time.Millisecond)
	w.Watch("inst-1", &expiresAt,
		func() LocalStatus { return StatusQRRequired },
		func(left int) {
			mu.Lock()
			ticks = append(ticks, left)
			mu.Unlock()
		},
		func() { expired <- struct{}{} },
	)

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatalf("onExpire não disparou")
	}
	// espera para garantir que não há segundo disparo nem tiques extras
	time.Sleep(100 * time.Millisecond)
	select {
	case <-expired:
		t.Fatalf("onExpire disparou mais de uma vez")
	default:
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ticks) == 0 {
		t.Fatalf("nenhum tique registrado")
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i] > ticks[i-1] {
			t.Fatalf("sequência não monotônica: %v", ticks)
		}
	}
	if ticks[len(ticks)-1] != 0 {
		t.Fatalf("último tique deveria ser 0: %v", ticks)
	}
}

func TestCountdownSkipsWhenConnected(t *testing.T) {
	w := newQrWatcher()
	w.interval = 10 * time.Millisecond

	expired := make(chan struct{}, 1)
	expiresAt := time.Now().Add(20 * time.Millisecond)

	// status conectado: nem registra contagem
	w.Watch("inst-2", &expiresAt,
		func() LocalStatus { return StatusConnected },
		nil,
		func() { expired <- struct{}{} },
	)
	time.Sleep(80 * time.Millisecond)
	select {
	case <-expired:
		t.Fatalf("instância conectada não deveria expirar QR")
	default:
	}

	// expiração nula também limpa
	w.Watch("inst-3", nil,
		func() LocalStatus { return StatusQRRequired },
		nil,
		func() { expired <- struct{}{} },
	)
	time.Sleep(40 * time.Millisecond)
	select {
	case <-expired:
		t.Fatalf("sem expiresAt não há contagem")
	default:
	}
}

func TestCountdownConnectingSuppressesExpire(t *testing.T) {
	w := newQrWatcher()
	w.interval = 10 * time.Millisecond

	expired := make(chan struct{}, 1)
	expiresAt := time.Now().Add(30 * time.Millisecond)
	w.Watch("inst-4", &expiresAt,
		func() LocalStatus { return StatusConnecting },
		nil,
		func() { expired <- struct{}{} },
	)
	time.Sleep(120 * time.Millisecond)
	select {
	case <-expired:
		t.Fatalf("connecting no momento do zero não deveria virar qr_required")
	default:
	}
}

func TestCountdownStopIsDeterministic(t *testing.T) {
	w := newQrWatcher()
	w.interval = 10 * time.Millisecond

	expired := make(chan struct{}, 1)
	expiresAt := time.Now().Add(500 * time.Millisecond)
	w.Watch("inst-5", &expiresAt,
		func() LocalStatus { return StatusQRRequired },
		nil,
		func() { expired <- struct{}{} },
	)
	w.Stop("inst-5")

	w.mu.Lock()
	n := len(w.countdowns)
	w.mu.Unlock()
	if n != 0 {
		t.Fatalf("Stop deveria remover a contagem, sobraram %d", n)
	}

	time.Sleep(600 * time.Millisecond)
	select {
	case <-expired:
		t.Fatalf("contagem parada não pode expirar")
	default:
	}
}

func TestCountdownReplacedBySupersedingQr(t *testing.T) {
	w := newQrWatcher()
	w.interval = 10 * time.Millisecond

	firstExpired := make(chan struct{}, 1)
	secondExpired := make(chan struct{}, 1)

	far := time.Now().Add(5 * time.Second)
	w.Watch("inst-6", &far,
		func() LocalStatus { return StatusQRRequired },
		nil,
		func() { firstExpired <- struct{}{} },
	)

	soon := time.Now().Add(40 * time.Millisecond)
	w.Watch("inst-6", &soon,
		func() LocalStatus { return StatusQRRequired },
		nil,
		func() { secondExpired <- struct{}{} },
	)

	select {
	case <-secondExpired:
	case <-time.After(2 * time.Second):
		t.Fatalf("QR substituto deveria expirar")
	}
	select {
	case <-firstExpired:
		t.Fatalf("contagem substituída não pode expirar")
	default:
	}
	w.StopAll()
}
