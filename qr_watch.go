package main

// Contagem regressiva de expiração do QR. O tempo restante é sempre
// recalculado a partir do timestamp absoluto de expiração, nunca
// decrementado às cegas; ao chegar em zero o status vira qr_required
// exatamente uma vez, a não ser que a instância já tenha conectado.

import (
	"sync"
	"time"
)

// secondsUntil devolve os segundos até expiresAt, com piso em zero.
func secondsUntil(now, expiresAt time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := int((d + time.Second - 1) / time.Second)
	return secs
}

type countdown struct {
	stop chan struct{}
	done chan struct{}
}

// qrWatcher mantém no máximo uma contagem por instância. Um novo QR
// para a mesma instância substitui (e encerra) a contagem anterior —
// não há vazamento de tickers.
type qrWatcher struct {
	mu         sync.Mutex
	countdowns map[string]*countdown
	interval   time.Duration
	now        func() time.Time
}

func newQrWatcher() *qrWatcher {
	return &qrWatcher{
		countdowns: make(map[string]*countdown),
		interval:   time.Second,
		now:        time.Now,
	}
}

// Watch inicia (ou reinicia) a contagem da instância.
//   - expiresAt nulo ou status já conectado: apenas encerra a contagem.
//   - onTick recebe os segundos restantes a cada tique, começando
//     imediatamente.
//   - onExpire dispara uma única vez ao zerar, se o status não for
//     connected nem connecting.
func (w *qrWatcher) Watch(instanceID string, expiresAt *time.Time, status func() LocalStatus, onTick func(secondsLeft int), onExpire func()) {
	w.Stop(instanceID)
	if expiresAt == nil || status() == StatusConnected {
		return
	}

	cd := &countdown{stop: make(chan struct{}), done: make(chan struct{})}
	w.mu.Lock()
	w.countdowns[instanceID] = cd
	w.mu.Unlock()

	go w.run(instanceID, *expiresAt, status, onTick, onExpire, cd)
}

func (w *qrWatcher) run(instanceID string, expiresAt time.Time, status func() LocalStatus, onTick func(int), onExpire func(), cd *countdown) {
	defer close(cd.done)
	defer w.clear(instanceID, cd)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		left := secondsUntil(w.now(), expiresAt)
		if onTick != nil {
			onTick(left)
		}
		if left == 0 {
			st := status()
			if st != StatusConnected && st != StatusConnecting && onExpire != nil {
				onExpire()
			}
			return
		}
		select {
		case <-cd.stop:
			return
		case <-ticker.C:
		}
	}
}

// Stop encerra deterministicamente a contagem da instância, se houver.
func (w *qrWatcher) Stop(instanceID string) {
	w.mu.Lock()
	cd, ok := w.countdowns[instanceID]
	if ok {
		delete(w.countdowns, instanceID)
	}
	w.mu.Unlock()
	if ok {
		close(cd.stop)
		<-cd.done
	}
}

// StopAll encerra todas as contagens (shutdown).
func (w *qrWatcher) StopAll() {
	w.mu.Lock()
	all := w.countdowns
	w.countdowns = make(map[string]*countdown)
	w.mu.Unlock()
	for _, cd := range all {
		close(cd.stop)
		<-cd.done
	}
}

// clear remove a entrada apenas se ela ainda apontar para esta contagem
// (uma substituição pode já ter registrado outra).
func (w *qrWatcher) clear(instanceID string, cd *countdown) {
	w.mu.Lock()
	if cur, ok := w.countdowns[instanceID]; ok && cur == cd {
		delete(w.countdowns, instanceID)
	}
	w.mu.Unlock()
}
