// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-FileHub License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import "sync"

// LockRegistry é o registro process-wide de upload locks por nome lógico.
// Semântica acquire-or-fail: nunca bloqueia esperando outro dono.
// A liberação é amarrada ao ciclo de vida da sessão (commit, rollback
// ou desconexão) via ReleaseAll.
type LockRegistry struct {
	owners sync.Map // nome lógico (string) → sessionID (string)
}

// NewLockRegistry cria um registro vazio.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{}
}

// Acquire tenta adquirir o lock de name para sessionID.
// Retorna true se a sessão adquiriu (ou já detinha) o lock.
func (r *LockRegistry) Acquire(name, sessionID string) bool {
	owner, _ := r.owners.LoadOrStore(name, sessionID)
	return owner.(string) == sessionID
}

// Release libera o lock de name se pertencer a sessionID.
func (r *LockRegistry) Release(name, sessionID string) {
	r.owners.CompareAndDelete(name, sessionID)
}

// ReleaseAll libera todos os locks detidos por sessionID.
func (r *LockRegistry) ReleaseAll(sessionID string) {
	r.owners.Range(func(key, value any) bool {
		if value.(string) == sessionID {
			r.owners.CompareAndDelete(key, value)
		}
		return true
	})
}

// Owner retorna o dono atual do lock de name, se houver.
func (r *LockRegistry) Owner(name string) (string, bool) {
	v, ok := r.owners.Load(name)
	if !ok {
		return "", false
	}
	return v.(string), true
}
